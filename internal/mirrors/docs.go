package mirrors

import (
	"time"

	"mirrorhub/pkg/models"
)

// Version tags of the JSON payloads. Bump when a field changes meaning so
// scripted consumers can detect the shape they are parsing.
const (
	statusJSONVersion    = 3
	locationsJSONVersion = 1
)

// seconds flattens a duration to whole seconds for the wire.
func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

type urlDoc struct {
	URL            string     `json:"url"`
	Protocol       string     `json:"protocol"`
	LastSync       *time.Time `json:"last_sync"`
	CompletionPct  *float64   `json:"completion_pct"`
	Delay          *int64     `json:"delay"`
	DurationAvg    *float64   `json:"duration_avg"`
	DurationStddev *float64   `json:"duration_stddev"`
	Score          *float64   `json:"score"`
	Country        string     `json:"country"`
	CountryCode    string     `json:"country_code"`
}

func buildURLDoc(du *DisplayURL) urlDoc {
	d := urlDoc{
		URL:         du.URL,
		Protocol:    du.Protocol,
		Country:     du.CountryCode.Name(),
		CountryCode: du.CountryCode.Code(),
	}
	if st := du.Status; st != nil {
		pct := st.CompletionPct
		d.CompletionPct = &pct
		d.LastSync = st.LastSync
		if st.Delay != nil {
			secs := seconds(*st.Delay)
			d.Delay = &secs
		}
		d.DurationAvg = st.DurationAvg
		d.DurationStddev = st.DurationStddev
		d.Score = st.Score
	}
	return d
}

type logDoc struct {
	CheckTime  time.Time  `json:"check_time"`
	LastSync   *time.Time `json:"last_sync"`
	Duration   *float64   `json:"duration"`
	IsSuccess  bool       `json:"is_success"`
	LocationID *int64     `json:"location_id"`
}

func buildLogDoc(l models.MirrorLog) logDoc {
	return logDoc{
		CheckTime:  l.CheckTime,
		LastSync:   l.LastSync,
		Duration:   l.Duration,
		IsSuccess:  l.IsSuccess,
		LocationID: l.LocationID,
	}
}

// extURLDoc extends urlDoc with the URL's check history inside the window,
// oldest first. Logs is always present, possibly empty.
type extURLDoc struct {
	urlDoc
	Logs []logDoc `json:"logs"`
}

func buildExtURLDoc(du *DisplayURL, logs []models.MirrorLog) extURLDoc {
	d := extURLDoc{
		urlDoc: buildURLDoc(du),
		Logs:   make([]logDoc, 0, len(logs)),
	}
	for _, l := range logs {
		d.Logs = append(d.Logs, buildLogDoc(l))
	}
	return d
}

type statusDoc struct {
	Cutoff         int64      `json:"cutoff"`
	LastCheck      *time.Time `json:"last_check"`
	NumChecks      int        `json:"num_checks"`
	CheckFrequency *int64     `json:"check_frequency"`
	URLs           []urlDoc   `json:"urls"`
	Version        int        `json:"version"`
}

func buildStatusDoc(report *StatusReport) statusDoc {
	doc := statusDoc{
		Cutoff:    seconds(report.Cutoff),
		LastCheck: report.LastCheck,
		NumChecks: report.NumChecks,
		URLs:      make([]urlDoc, 0, len(report.URLs)),
		Version:   statusJSONVersion,
	}
	if report.CheckFrequency != nil {
		f := seconds(*report.CheckFrequency)
		doc.CheckFrequency = &f
	}
	for _, du := range report.URLs {
		doc.URLs = append(doc.URLs, buildURLDoc(du))
	}
	return doc
}

type extStatusDoc struct {
	Cutoff         int64       `json:"cutoff"`
	LastCheck      *time.Time  `json:"last_check"`
	NumChecks      int         `json:"num_checks"`
	CheckFrequency *int64      `json:"check_frequency"`
	URLs           []extURLDoc `json:"urls"`
	Version        int         `json:"version"`
}

func buildExtStatusDoc(report *StatusReport, logs map[int64][]models.MirrorLog) extStatusDoc {
	doc := extStatusDoc{
		Cutoff:    seconds(report.Cutoff),
		LastCheck: report.LastCheck,
		NumChecks: report.NumChecks,
		URLs:      make([]extURLDoc, 0, len(report.URLs)),
		Version:   statusJSONVersion,
	}
	if report.CheckFrequency != nil {
		f := seconds(*report.CheckFrequency)
		doc.CheckFrequency = &f
	}
	for _, du := range report.URLs {
		doc.URLs = append(doc.URLs, buildExtURLDoc(du, logs[du.ID]))
	}
	return doc
}

type locationDoc struct {
	ID          int64  `json:"id"`
	Hostname    string `json:"hostname"`
	SourceIP    string `json:"source_ip"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	IPVersion   string `json:"ip_version"`
}

type locationsDoc struct {
	Version   int           `json:"version"`
	Locations []locationDoc `json:"locations"`
}

func buildLocationsDoc(locs []models.CheckLocation) locationsDoc {
	doc := locationsDoc{
		Version:   locationsJSONVersion,
		Locations: make([]locationDoc, 0, len(locs)),
	}
	for _, loc := range locs {
		doc.Locations = append(doc.Locations, locationDoc{
			ID:          loc.ID,
			Hostname:    loc.Hostname,
			SourceIP:    loc.SourceIP,
			Country:     loc.CountryCode.Name(),
			CountryCode: loc.CountryCode.Code(),
			IPVersion:   models.IPVersionName(loc.IPVersion),
		})
	}
	return doc
}
