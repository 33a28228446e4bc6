package mirrors

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"mirrorhub/pkg/database"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// a second pool connection would see its own empty in-memory database
	db.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedMirror(t *testing.T, db *sql.DB, name string, tier int, public, active bool) int64 {
	t.Helper()
	res, err := db.Exec(`
		INSERT INTO mirrors (name, tier, public, active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, tier, public, active, time.Now().UTC())
	if err != nil {
		t.Fatalf("seed mirror %s: %v", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("mirror id: %v", err)
	}
	return id
}

// seedProtocol creates the protocol row if it does not exist yet. The first
// caller fixes is_download for the label, later calls reuse the row.
func seedProtocol(t *testing.T, db *sql.DB, label string, isDownload bool) int64 {
	t.Helper()
	if _, err := db.Exec(`
		INSERT OR IGNORE INTO mirror_protocols (protocol, is_download) VALUES (?, ?)
	`, label, isDownload); err != nil {
		t.Fatalf("seed protocol %s: %v", label, err)
	}
	var id int64
	if err := db.QueryRow(`SELECT id FROM mirror_protocols WHERE protocol = ?`, label).Scan(&id); err != nil {
		t.Fatalf("protocol id %s: %v", label, err)
	}
	return id
}

func seedURL(t *testing.T, db *sql.DB, mirrorID int64, rawURL, protocol, country string, active bool) int64 {
	t.Helper()
	protoID := seedProtocol(t, db, protocol, true)
	res, err := db.Exec(`
		INSERT INTO mirror_urls (mirror_id, url, protocol_id, country, active)
		VALUES (?, ?, ?, ?, ?)
	`, mirrorID, rawURL, protoID, country, active)
	if err != nil {
		t.Fatalf("seed url %s: %v", rawURL, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("url id: %v", err)
	}
	return id
}

func seedLog(t *testing.T, db *sql.DB, urlID int64, checkTime time.Time, lastSync *time.Time, duration *float64, success bool, errMsg string, locID *int64) {
	t.Helper()
	if _, err := db.Exec(`
		INSERT INTO mirror_logs (url_id, location_id, check_time, last_sync, duration, is_success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, urlID, locID, checkTime.UTC(), lastSync, duration, success, errMsg); err != nil {
		t.Fatalf("seed log for url %d: %v", urlID, err)
	}
}

func seedLocation(t *testing.T, db *sql.DB, hostname, sourceIP, country string, ipVersion int) int64 {
	t.Helper()
	res, err := db.Exec(`
		INSERT INTO check_locations (hostname, source_ip, country, ip_version, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, hostname, sourceIP, country, ipVersion, time.Now().UTC())
	if err != nil {
		t.Fatalf("seed location %s: %v", sourceIP, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("location id: %v", err)
	}
	return id
}

// seedAlpha populates one public tier-1 mirror whose download URL has four
// checks inside the default window: three successes lagging one hour behind
// upstream with durations 1, 2 and 3 seconds, then a failed probe. The
// derived aggregates are asserted all over this package:
//
//	completion 3/4, duration avg 2.0, stddev sqrt(2/3),
//	delay 1h, score (1 + 2 + sqrt(2/3)) / 0.75
func seedAlpha(t *testing.T, db *sql.DB, now time.Time) (mirrorID, urlID int64) {
	t.Helper()
	mirrorID = seedMirror(t, db, "alpha", 1, true, true)
	urlID = seedURL(t, db, mirrorID, "https://alpha.example.com/archlinux/", "https", "DE", true)

	seedLog(t, db, urlID, now.Add(-3*time.Hour), tp(now.Add(-4*time.Hour)), fp(1.0), true, "", nil)
	seedLog(t, db, urlID, now.Add(-2*time.Hour), tp(now.Add(-3*time.Hour)), fp(2.0), true, "", nil)
	seedLog(t, db, urlID, now.Add(-1*time.Hour), tp(now.Add(-2*time.Hour)), fp(3.0), true, "", nil)
	seedLog(t, db, urlID, now.Add(-30*time.Minute), nil, nil, false, "connection refused", nil)
	return mirrorID, urlID
}

const (
	alphaStddev = 0.816496580927726 // sqrt(2/3)
	alphaScore  = (1.0 + 2.0 + alphaStddev) / 0.75
)

func fp(v float64) *float64 { return &v }

func tp(v time.Time) *time.Time {
	u := v.UTC()
	return &u
}

func near(got, want, eps float64) bool {
	return math.Abs(got-want) < eps
}
