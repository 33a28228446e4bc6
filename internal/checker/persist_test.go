package checker

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"mirrorhub/pkg/database"
	"mirrorhub/pkg/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedMirror(t *testing.T, db *sql.DB, name string, public, active bool) int64 {
	t.Helper()
	res, err := db.Exec(`
		INSERT INTO mirrors (name, tier, public, active, created_at) VALUES (?, 1, ?, ?, ?)
	`, name, public, active, time.Now().UTC())
	if err != nil {
		t.Fatalf("seed mirror %s: %v", name, err)
	}
	id, _ := res.LastInsertId()
	return id
}

func seedURL(t *testing.T, db *sql.DB, mirrorID int64, rawURL string, active bool) int64 {
	t.Helper()
	if _, err := db.Exec(`INSERT OR IGNORE INTO mirror_protocols (protocol) VALUES ('https')`); err != nil {
		t.Fatalf("seed protocol: %v", err)
	}
	var protoID int64
	if err := db.QueryRow(`SELECT id FROM mirror_protocols WHERE protocol = 'https'`).Scan(&protoID); err != nil {
		t.Fatalf("protocol id: %v", err)
	}
	res, err := db.Exec(`
		INSERT INTO mirror_urls (mirror_id, url, protocol_id, country, active) VALUES (?, ?, ?, '', ?)
	`, mirrorID, rawURL, protoID, active)
	if err != nil {
		t.Fatalf("seed url %s: %v", rawURL, err)
	}
	id, _ := res.LastInsertId()
	return id
}

func TestActiveURLs(t *testing.T) {
	db := newTestDB(t)

	alpha := seedMirror(t, db, "alpha", true, true)
	wantOn := seedURL(t, db, alpha, "https://alpha.example.com/", true)
	seedURL(t, db, alpha, "https://old.alpha.example.com/", false)

	// private mirrors still get probed
	private := seedMirror(t, db, "beta", false, true)
	wantPrivate := seedURL(t, db, private, "https://beta.example.com/", true)

	retired := seedMirror(t, db, "gamma", true, false)
	seedURL(t, db, retired, "https://gamma.example.com/", true)

	urls, err := ActiveURLs(context.Background(), db)
	if err != nil {
		t.Fatalf("ActiveURLs() error = %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("got %d urls, want 2: %+v", len(urls), urls)
	}
	if urls[0].ID != wantOn || urls[1].ID != wantPrivate {
		t.Errorf("work list = %d, %d, want %d, %d", urls[0].ID, urls[1].ID, wantOn, wantPrivate)
	}
	if urls[0].MirrorName != "alpha" || urls[0].Protocol != "https" {
		t.Errorf("join fields = %+v", urls[0])
	}
}

func TestInsertLogsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	mID := seedMirror(t, db, "alpha", true, true)
	uID := seedURL(t, db, mID, "https://alpha.example.com/", true)

	loc := &models.CheckLocation{Hostname: "probe1", SourceIP: "203.0.113.10", IPVersion: 4}
	if err := UpsertLocation(context.Background(), db, loc); err != nil {
		t.Fatalf("UpsertLocation() error = %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	sync := now.Add(-time.Hour)
	dur := 1.25
	results := []Result{
		{URLID: uID, CheckTime: now, LastSync: &sync, Duration: &dur, Success: true},
		{URLID: uID, CheckTime: now.Add(time.Minute), Error: "HTTP 500"},
	}
	if err := InsertLogs(context.Background(), db, results, &loc.ID); err != nil {
		t.Fatalf("InsertLogs() error = %v", err)
	}

	rows, err := db.Query(`
		SELECT location_id, last_sync, duration, is_success, error
		FROM mirror_logs ORDER BY check_time
	`)
	if err != nil {
		t.Fatalf("query logs: %v", err)
	}
	defer rows.Close()

	type logRow struct {
		locID    sql.NullInt64
		lastSync sql.NullTime
		duration sql.NullFloat64
		success  bool
		errMsg   string
	}
	var got []logRow
	for rows.Next() {
		var r logRow
		if err := rows.Scan(&r.locID, &r.lastSync, &r.duration, &r.success, &r.errMsg); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows err: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}

	ok := got[0]
	if !ok.success || ok.errMsg != "" {
		t.Errorf("success row = %+v", ok)
	}
	if !ok.locID.Valid || ok.locID.Int64 != loc.ID {
		t.Errorf("location_id = %+v, want %d", ok.locID, loc.ID)
	}
	if !ok.lastSync.Valid || !ok.lastSync.Time.UTC().Equal(sync) {
		t.Errorf("last_sync = %+v, want %v", ok.lastSync, sync)
	}
	if !ok.duration.Valid || ok.duration.Float64 != 1.25 {
		t.Errorf("duration = %+v", ok.duration)
	}

	fail := got[1]
	if fail.success || fail.errMsg != "HTTP 500" {
		t.Errorf("failure row = %+v", fail)
	}
	if fail.lastSync.Valid || fail.duration.Valid {
		t.Errorf("failure row carries values that should be null: %+v", fail)
	}
}

func TestInsertLogsEmpty(t *testing.T) {
	db := newTestDB(t)
	if err := InsertLogs(context.Background(), db, nil, nil); err != nil {
		t.Fatalf("InsertLogs(empty) error = %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM mirror_logs`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("log count = %d, want 0", n)
	}
}

func TestUpsertLocation(t *testing.T) {
	db := newTestDB(t)

	loc := &models.CheckLocation{Hostname: "probe1", SourceIP: "203.0.113.10", CountryCode: models.Country("us"), IPVersion: 4}
	if err := UpsertLocation(context.Background(), db, loc); err != nil {
		t.Fatalf("UpsertLocation() error = %v", err)
	}
	if loc.ID == 0 {
		t.Fatal("ID not filled in")
	}
	firstID := loc.ID

	// same source ip, new hostname: same row, updated fields
	renamed := &models.CheckLocation{Hostname: "probe1.internal", SourceIP: "203.0.113.10", CountryCode: models.Country("US"), IPVersion: 4}
	if err := UpsertLocation(context.Background(), db, renamed); err != nil {
		t.Fatalf("UpsertLocation(again) error = %v", err)
	}
	if renamed.ID != firstID {
		t.Errorf("ID changed on upsert: %d -> %d", firstID, renamed.ID)
	}

	var (
		n        int
		hostname string
		country  string
	)
	if err := db.QueryRow(`SELECT COUNT(*) FROM check_locations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("location rows = %d, want 1", n)
	}
	if err := db.QueryRow(`SELECT hostname, country FROM check_locations WHERE id = ?`, firstID).Scan(&hostname, &country); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if hostname != "probe1.internal" || country != "US" {
		t.Errorf("row = %q/%q", hostname, country)
	}
}
