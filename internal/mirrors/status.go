package mirrors

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"mirrorhub/pkg/models"
)

// DefaultCutoff bounds the log window used for status aggregation when the
// caller does not pick one.
const DefaultCutoff = 24 * time.Hour

// ScoreFloor replaces a zero completion ratio when dividing, so fully
// failing URLs still get a (very large) score instead of a division blowup.
const ScoreFloor = 0.005

type StatusOptions struct {
	// MirrorID restricts the report to a single mirror when non-zero.
	MirrorID int64
	// ShowAll lifts the public/active visibility filter.
	ShowAll bool
	// Cutoff is the log window; DefaultCutoff when zero.
	Cutoff time.Duration
}

// URLStatus holds the aggregates of one URL's checks inside the window.
type URLStatus struct {
	CheckCount     int
	SuccessCount   int
	CompletionPct  float64
	LastSync       *time.Time
	LastCheck      time.Time
	DurationAvg    *float64
	DurationStddev *float64
	Delay          *time.Duration
	Score          *float64
}

// DisplayURL pairs a URL with its window aggregates. Status is nil for URLs
// that were never checked inside the window.
type DisplayURL struct {
	models.MirrorURL
	Status *URLStatus
}

type StatusReport struct {
	Cutoff         time.Duration
	LastCheck      *time.Time
	NumChecks      int
	CheckFrequency *time.Duration
	URLs           []*DisplayURL
}

// MirrorError is one grouped failure bucket: identical error strings on the
// same URL collapse into a count plus the newest occurrence.
type MirrorError struct {
	URL          string
	CountryCode  models.Country
	Protocol     string
	Tier         int
	Error        string
	ErrorCount   int
	LastOccurred time.Time
}

// MirrorStatuses builds the status report: every download URL that was
// checked inside the window, with completion, delay, duration spread and the
// combined score. Only URLs of public active mirrors appear unless ShowAll.
func (r *Repo) MirrorStatuses(ctx context.Context, opts StatusOptions) (*StatusReport, error) {
	if opts.Cutoff <= 0 {
		opts.Cutoff = DefaultCutoff
	}
	cutoffTime := time.Now().Add(-opts.Cutoff).UTC()

	urls, err := r.candidateURLs(ctx, opts)
	if err != nil {
		return nil, err
	}
	aggs, err := r.windowAggregates(ctx, opts, cutoffTime)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Cutoff: opts.Cutoff}
	for i := range urls {
		agg, ok := aggs[urls[i].ID]
		if !ok {
			continue
		}
		st := agg.status()
		report.URLs = append(report.URLs, &DisplayURL{MirrorURL: urls[i], Status: st})
		if agg.checkCount > report.NumChecks {
			report.NumChecks = agg.checkCount
		}
		if report.LastCheck == nil || st.LastCheck.After(*report.LastCheck) {
			t := st.LastCheck
			report.LastCheck = &t
		}
	}

	if report.NumChecks > 1 {
		mn, mx, err := r.checkWindow(ctx, opts.MirrorID, cutoffTime)
		if err != nil {
			return nil, err
		}
		if mn != nil && mx != nil {
			freq := mx.Sub(*mn) / time.Duration(report.NumChecks-1)
			report.CheckFrequency = &freq
		}
	}
	return report, nil
}

// candidateURLs returns the download-protocol URLs eligible for the report,
// ordered by (mirror, url).
func (r *Repo) candidateURLs(ctx context.Context, opts StatusOptions) ([]models.MirrorURL, error) {
	q := `
		SELECT u.id, u.mirror_id, u.url, p.protocol, u.country, u.active, m.name, m.tier
		FROM mirror_urls u
		JOIN mirrors m ON m.id = u.mirror_id
		JOIN mirror_protocols p ON p.id = u.protocol_id
		WHERE p.is_download = 1
	`
	var args []any
	if opts.MirrorID != 0 {
		q += ` AND u.mirror_id = ?`
		args = append(args, opts.MirrorID)
	}
	if !opts.ShowAll {
		q += ` AND u.active = 1 AND m.active = 1 AND m.public = 1`
	}
	q += ` ORDER BY u.mirror_id, u.url`

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("candidate urls: %w", err)
	}
	defer rows.Close()

	var out []models.MirrorURL
	for rows.Next() {
		u, err := scanURL(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// urlAgg accumulates one URL's window rows before the derived stats are
// computed.
type urlAgg struct {
	checkCount   int
	successCount int
	lastSync     *time.Time
	lastCheck    time.Time
	durations    []float64
	delaySum     time.Duration
	delayCount   int
}

func (a *urlAgg) status() *URLStatus {
	s := &URLStatus{
		CheckCount:   a.checkCount,
		SuccessCount: a.successCount,
		LastSync:     a.lastSync,
		LastCheck:    a.lastCheck,
	}
	if a.checkCount > 0 {
		s.CompletionPct = float64(a.successCount) / float64(a.checkCount)
	}
	if len(a.durations) > 0 {
		avg := mean(a.durations)
		sd := stddevPop(a.durations, avg)
		s.DurationAvg = &avg
		s.DurationStddev = &sd
	}
	if a.delayCount > 0 {
		d := a.delaySum / time.Duration(a.delayCount)
		s.Delay = &d
	}
	if s.Delay != nil && s.DurationAvg != nil && s.DurationStddev != nil {
		divisor := s.CompletionPct
		if divisor <= 0 {
			divisor = ScoreFloor
		}
		score := (s.Delay.Hours() + *s.DurationAvg + *s.DurationStddev) / divisor
		s.Score = &score
	}
	return s
}

func (r *Repo) windowAggregates(ctx context.Context, opts StatusOptions, cutoffTime time.Time) (map[int64]*urlAgg, error) {
	q := `
		SELECT l.url_id, l.check_time, l.last_sync, l.duration, l.is_success
		FROM mirror_logs l
		JOIN mirror_urls u ON u.id = l.url_id
		JOIN mirrors m ON m.id = u.mirror_id
		JOIN mirror_protocols p ON p.id = u.protocol_id
		WHERE l.check_time >= ? AND p.is_download = 1
	`
	args := []any{cutoffTime}
	if opts.MirrorID != 0 {
		q += ` AND u.mirror_id = ?`
		args = append(args, opts.MirrorID)
	}
	if !opts.ShowAll {
		q += ` AND u.active = 1 AND m.active = 1 AND m.public = 1`
	}

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("window logs: %w", err)
	}
	defer rows.Close()

	aggs := make(map[int64]*urlAgg)
	for rows.Next() {
		var (
			urlID     int64
			checkTime time.Time
			lastSync  sql.NullTime
			duration  sql.NullFloat64
			isSuccess bool
		)
		if err := rows.Scan(&urlID, &checkTime, &lastSync, &duration, &isSuccess); err != nil {
			return nil, fmt.Errorf("scan window log: %w", err)
		}
		checkTime = checkTime.UTC()

		agg := aggs[urlID]
		if agg == nil {
			agg = &urlAgg{}
			aggs[urlID] = agg
		}
		agg.checkCount++
		if isSuccess {
			agg.successCount++
		}
		if checkTime.After(agg.lastCheck) {
			agg.lastCheck = checkTime
		}
		if lastSync.Valid {
			sync := lastSync.Time.UTC()
			if agg.lastSync == nil || sync.After(*agg.lastSync) {
				s := sync
				agg.lastSync = &s
			}
			agg.delaySum += checkTime.Sub(sync)
			agg.delayCount++
		}
		if duration.Valid {
			agg.durations = append(agg.durations, duration.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return aggs, nil
}

// checkWindow returns the oldest and newest check inside the window. The
// check frequency derives from the raw log span, so this deliberately skips
// the visibility filter and only narrows by mirror.
func (r *Repo) checkWindow(ctx context.Context, mirrorID int64, cutoffTime time.Time) (*time.Time, *time.Time, error) {
	q := `SELECT MIN(l.check_time), MAX(l.check_time) FROM mirror_logs l`
	args := []any{}
	if mirrorID != 0 {
		q += ` JOIN mirror_urls u ON u.id = l.url_id WHERE u.mirror_id = ? AND l.check_time >= ?`
		args = append(args, mirrorID, cutoffTime)
	} else {
		q += ` WHERE l.check_time >= ?`
		args = append(args, cutoffTime)
	}

	var rawMin, rawMax sql.NullString
	if err := r.DB.QueryRowContext(ctx, q, args...).Scan(&rawMin, &rawMax); err != nil {
		return nil, nil, fmt.Errorf("check window: %w", err)
	}
	if !rawMin.Valid || !rawMax.Valid {
		return nil, nil, nil
	}
	mn, err := parseSQLiteTime(rawMin.String)
	if err != nil {
		return nil, nil, fmt.Errorf("check window: %w", err)
	}
	mx, err := parseSQLiteTime(rawMax.String)
	if err != nil {
		return nil, nil, fmt.Errorf("check window: %w", err)
	}
	return &mn, &mx, nil
}

// MirrorErrors groups the failed checks inside the window by URL and error
// string, newest groups first. Inactive URLs are always skipped; inactive or
// private mirrors only show up with ShowAll.
func (r *Repo) MirrorErrors(ctx context.Context, opts StatusOptions) ([]*MirrorError, error) {
	if opts.Cutoff <= 0 {
		opts.Cutoff = DefaultCutoff
	}
	cutoffTime := time.Now().Add(-opts.Cutoff).UTC()

	q := `
		SELECT u.url, u.country, p.protocol, m.tier, l.error,
		       COUNT(*) AS error_count, MAX(l.check_time) AS last_occurred
		FROM mirror_logs l
		JOIN mirror_urls u ON u.id = l.url_id
		JOIN mirrors m ON m.id = u.mirror_id
		JOIN mirror_protocols p ON p.id = u.protocol_id
		WHERE l.is_success = 0 AND l.check_time >= ? AND u.active = 1
	`
	args := []any{cutoffTime}
	if opts.MirrorID != 0 {
		q += ` AND u.mirror_id = ?`
		args = append(args, opts.MirrorID)
	}
	if !opts.ShowAll {
		q += ` AND m.active = 1 AND m.public = 1`
	}
	q += `
		GROUP BY u.url, u.country, p.protocol, m.tier, l.error
		ORDER BY last_occurred DESC, error_count DESC
	`

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("mirror errors: %w", err)
	}
	defer rows.Close()

	var out []*MirrorError
	for rows.Next() {
		var (
			e       MirrorError
			country string
			rawLast string
		)
		if err := rows.Scan(&e.URL, &country, &e.Protocol, &e.Tier, &e.Error, &e.ErrorCount, &rawLast); err != nil {
			return nil, fmt.Errorf("scan error group: %w", err)
		}
		e.CountryCode = models.Country(country)
		last, err := parseSQLiteTime(rawLast)
		if err != nil {
			return nil, fmt.Errorf("error group time: %w", err)
		}
		e.LastOccurred = last
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// MergeURLs unions a mirror's full URL list with the checked subset, padding
// unchecked URLs with a nil status. The result is sorted by URL string.
func MergeURLs(all []models.MirrorURL, checked []*DisplayURL) []*DisplayURL {
	out := make([]*DisplayURL, 0, len(all))
	seen := make(map[int64]bool, len(checked))
	for _, du := range checked {
		seen[du.ID] = true
		out = append(out, du)
	}
	for i := range all {
		if seen[all[i].ID] {
			continue
		}
		out = append(out, &DisplayURL{MirrorURL: all[i]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stddevPop is the population standard deviation, matching what a SQL
// STDDEV_POP over the same rows would report.
func stddevPop(vals []float64, avg float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		d := v - avg
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}
