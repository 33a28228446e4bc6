package mirrors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mirrorhub/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// ListMirrors returns mirrors ordered by (tier, name). Anonymous callers
// (showAll=false) only see public active mirrors.
func (r *Repo) ListMirrors(ctx context.Context, showAll bool) ([]models.Mirror, error) {
	q := `
		SELECT id, name, tier, public, active, notes, created_at
		FROM mirrors
	`
	if !showAll {
		q += ` WHERE public = 1 AND active = 1`
	}
	q += ` ORDER BY tier, name`

	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list mirrors: %w", err)
	}
	defer rows.Close()

	var out []models.Mirror
	for rows.Next() {
		var (
			m     models.Mirror
			notes sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Name, &m.Tier, &m.Public, &m.Active, &notes, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mirror: %w", err)
		}
		m.Notes = notes.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func (r *Repo) MirrorByName(ctx context.Context, name string) (*models.Mirror, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, name, tier, public, active, notes, created_at
		FROM mirrors
		WHERE name = ?
	`, name)

	var (
		m     models.Mirror
		notes sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Tier, &m.Public, &m.Active, &notes, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get mirror: %w", err)
	}
	m.Notes = notes.String
	return &m, nil
}

// URLProtocols returns the distinct protocol labels per mirror, each list
// ordered by protocol name.
func (r *Repo) URLProtocols(ctx context.Context) (map[int64][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT DISTINCT u.mirror_id, p.protocol
		FROM mirror_urls u
		JOIN mirror_protocols p ON p.id = u.protocol_id
		ORDER BY p.protocol
	`)
	if err != nil {
		return nil, fmt.Errorf("url protocols: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]string)
	for rows.Next() {
		var (
			mirrorID int64
			proto    string
		)
		if err := rows.Scan(&mirrorID, &proto); err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		out[mirrorID] = append(out[mirrorID], proto)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// URLCountries returns the distinct non-empty country codes per mirror.
func (r *Repo) URLCountries(ctx context.Context) (map[int64][]models.Country, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT DISTINCT mirror_id, country
		FROM mirror_urls
		WHERE country <> ''
		ORDER BY country
	`)
	if err != nil {
		return nil, fmt.Errorf("url countries: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]models.Country)
	for rows.Next() {
		var (
			mirrorID int64
			country  string
		)
		if err := rows.Scan(&mirrorID, &country); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		out[mirrorID] = append(out[mirrorID], models.Country(country))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// MirrorURLs returns every URL of a mirror ordered by URL string, with the
// protocol label and mirror fields joined in.
func (r *Repo) MirrorURLs(ctx context.Context, mirrorID int64, activeOnly bool) ([]models.MirrorURL, error) {
	q := `
		SELECT u.id, u.mirror_id, u.url, p.protocol, u.country, u.active, m.name, m.tier
		FROM mirror_urls u
		JOIN mirrors m ON m.id = u.mirror_id
		JOIN mirror_protocols p ON p.id = u.protocol_id
		WHERE u.mirror_id = ?
	`
	if activeOnly {
		q += ` AND u.active = 1`
	}
	q += ` ORDER BY u.url`

	rows, err := r.DB.QueryContext(ctx, q, mirrorID)
	if err != nil {
		return nil, fmt.Errorf("mirror urls: %w", err)
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

// URLByID looks a URL up by id, but only within the named mirror. A URL that
// exists under a different mirror comes back as not found.
func (r *Repo) URLByID(ctx context.Context, mirrorName string, urlID int64) (*models.MirrorURL, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT u.id, u.mirror_id, u.url, p.protocol, u.country, u.active, m.name, m.tier
		FROM mirror_urls u
		JOIN mirrors m ON m.id = u.mirror_id
		JOIN mirror_protocols p ON p.id = u.protocol_id
		WHERE u.id = ? AND m.name = ?
	`, urlID, mirrorName)

	u, err := scanURL(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanURL(row rowScanner) (*models.MirrorURL, error) {
	var (
		u       models.MirrorURL
		country string
	)
	if err := row.Scan(&u.ID, &u.MirrorID, &u.URL, &u.Protocol, &country, &u.Active, &u.MirrorName, &u.Tier); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan url: %w", err)
	}
	u.CountryCode = models.Country(country)
	return &u, nil
}

// URLLogs returns each URL's logs since the given time, oldest first,
// grouped by URL id.
func (r *Repo) URLLogs(ctx context.Context, urlIDs []int64, since time.Time) (map[int64][]models.MirrorLog, error) {
	out := make(map[int64][]models.MirrorLog)
	if len(urlIDs) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(urlIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(urlIDs)+1)
	for _, id := range urlIDs {
		args = append(args, id)
	}
	args = append(args, since.UTC())

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, url_id, location_id, check_time, last_sync, duration, is_success, error
		FROM mirror_logs
		WHERE url_id IN (`+placeholders+`) AND check_time >= ?
		ORDER BY check_time
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("url logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out[l.URLID] = append(out[l.URLID], *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// LogEntry is a mirror log with its probe location joined in, when the log
// carries one.
type LogEntry struct {
	models.MirrorLog
	Location *models.CheckLocation
}

// URLLogEntries returns one URL's logs since the given time, newest first,
// with locations joined.
func (r *Repo) URLLogEntries(ctx context.Context, urlID int64, since time.Time) ([]LogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT l.id, l.url_id, l.location_id, l.check_time, l.last_sync, l.duration, l.is_success, l.error,
		       loc.id, loc.hostname, loc.source_ip, loc.country, loc.ip_version
		FROM mirror_logs l
		LEFT JOIN check_locations loc ON loc.id = l.location_id
		WHERE l.url_id = ? AND l.check_time >= ?
		ORDER BY l.check_time DESC
	`, urlID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("url log entries: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			l          models.MirrorLog
			locID      sql.NullInt64
			lastSync   sql.NullTime
			duration   sql.NullFloat64
			locRowID   sql.NullInt64
			hostname   sql.NullString
			sourceIP   sql.NullString
			locCountry sql.NullString
			ipVersion  sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &l.URLID, &locID, &l.CheckTime, &lastSync, &duration, &l.IsSuccess, &l.Error,
			&locRowID, &hostname, &sourceIP, &locCountry, &ipVersion); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		applyLogNulls(&l, locID, lastSync, duration)

		entry := LogEntry{MirrorLog: l}
		if locRowID.Valid {
			entry.Location = &models.CheckLocation{
				ID:          locRowID.Int64,
				Hostname:    hostname.String,
				SourceIP:    sourceIP.String,
				CountryCode: models.Country(locCountry.String),
				IPVersion:   int(ipVersion.Int64),
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func scanLog(rows *sql.Rows) (*models.MirrorLog, error) {
	var (
		l        models.MirrorLog
		locID    sql.NullInt64
		lastSync sql.NullTime
		duration sql.NullFloat64
	)
	if err := rows.Scan(&l.ID, &l.URLID, &locID, &l.CheckTime, &lastSync, &duration, &l.IsSuccess, &l.Error); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	applyLogNulls(&l, locID, lastSync, duration)
	return &l, nil
}

func applyLogNulls(l *models.MirrorLog, locID sql.NullInt64, lastSync sql.NullTime, duration sql.NullFloat64) {
	l.CheckTime = l.CheckTime.UTC()
	if locID.Valid {
		v := locID.Int64
		l.LocationID = &v
	}
	if lastSync.Valid {
		v := lastSync.Time.UTC()
		l.LastSync = &v
	}
	if duration.Valid {
		v := duration.Float64
		l.Duration = &v
	}
}

func (r *Repo) Locations(ctx context.Context) ([]models.CheckLocation, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, hostname, source_ip, country, ip_version, created_at
		FROM check_locations
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("locations: %w", err)
	}
	defer rows.Close()

	var out []models.CheckLocation
	for rows.Next() {
		var (
			loc     models.CheckLocation
			country string
		)
		if err := rows.Scan(&loc.ID, &loc.Hostname, &loc.SourceIP, &country, &loc.IPVersion, &loc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		loc.CountryCode = models.Country(country)
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// LastCheckTime returns the newest check_time across all logs, or nil when
// no checks were ever recorded. It drives Last-Modified headers and the live
// status watcher.
func (r *Repo) LastCheckTime(ctx context.Context) (*time.Time, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT MAX(check_time) FROM mirror_logs`)

	var raw sql.NullString
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("last check time: %w", err)
	}
	if !raw.Valid {
		return nil, nil
	}
	t, err := parseSQLiteTime(raw.String)
	if err != nil {
		return nil, fmt.Errorf("last check time: %w", err)
	}
	return &t, nil
}

// sqlite loses the column type on aggregate expressions, so MAX(check_time)
// and friends arrive as text in the driver's storage formats.
var sqliteTimeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05-07:00",
	time.RFC3339Nano,
}

func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range sqliteTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized sqlite time %q", s)
}
