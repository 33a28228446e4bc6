package mirrors

import (
	"fmt"
	"html/template"
	"time"

	"mirrorhub/pkg/models"
)

// TemplateFuncs returns the helpers the HTML views use. The formatters
// tolerate nil values so URLs without a status render as blank cells.
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"tiername": models.TierName,
		"utctime":  formatUTC,
		"pct":      formatPct,
		"f2":       formatFloat,
		"dur":      formatDuration,
	}
}

func formatUTC(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04")
	case *time.Time:
		if t == nil || t.IsZero() {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04")
	}
	return ""
}

func formatPct(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *f)
}

// formatDuration renders a delay as hours:minutes.
func formatDuration(d *time.Duration) string {
	if d == nil {
		return ""
	}
	total := int64(*d / time.Minute)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
