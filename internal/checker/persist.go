package checker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mirrorhub/pkg/models"
)

// ActiveURLs returns the checker's work list: active URLs of active
// mirrors, private ones included. Private mirrors are hidden from anonymous
// readers, not from the prober.
func ActiveURLs(ctx context.Context, db *sql.DB) ([]models.MirrorURL, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT u.id, u.mirror_id, u.url, p.protocol, u.country, u.active, m.name, m.tier
		FROM mirror_urls u
		JOIN mirrors m ON m.id = u.mirror_id
		JOIN mirror_protocols p ON p.id = u.protocol_id
		WHERE u.active = 1 AND m.active = 1
		ORDER BY u.mirror_id, u.url
	`)
	if err != nil {
		return nil, fmt.Errorf("active urls: %w", err)
	}
	defer rows.Close()

	var out []models.MirrorURL
	for rows.Next() {
		var (
			u       models.MirrorURL
			country string
		)
		if err := rows.Scan(&u.ID, &u.MirrorID, &u.URL, &u.Protocol, &country, &u.Active, &u.MirrorName, &u.Tier); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		u.CountryCode = models.Country(country)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// InsertLogs writes one run's results in a single transaction, so readers
// see a sweep land at once or not at all.
func InsertLogs(ctx context.Context, db *sql.DB, results []Result, locationID *int64) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mirror_logs (url_id, location_id, check_time, last_sync, duration, is_success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		var locID any
		if locationID != nil {
			locID = *locationID
		}
		var lastSync any
		if r.LastSync != nil {
			lastSync = r.LastSync.UTC()
		}
		var duration any
		if r.Duration != nil {
			duration = *r.Duration
		}
		if _, err := stmt.ExecContext(ctx, r.URLID, locID, r.CheckTime.UTC(), lastSync, duration, r.Success, r.Error); err != nil {
			return fmt.Errorf("exec insert for url %d: %w", r.URLID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpsertLocation records where this checker runs, keyed by source IP, and
// fills in the row id.
func UpsertLocation(ctx context.Context, db *sql.DB, loc *models.CheckLocation) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO check_locations (hostname, source_ip, country, ip_version, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_ip) DO UPDATE SET
		  hostname = excluded.hostname,
		  country = excluded.country,
		  ip_version = excluded.ip_version
	`, loc.Hostname, loc.SourceIP, loc.CountryCode.Code(), loc.IPVersion, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}

	if err := db.QueryRowContext(ctx, `
		SELECT id FROM check_locations WHERE source_ip = ?
	`, loc.SourceIP).Scan(&loc.ID); err != nil {
		return fmt.Errorf("location id: %w", err)
	}
	return nil
}
