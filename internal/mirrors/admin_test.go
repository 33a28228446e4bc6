package mirrors

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newAdminRouter(t *testing.T, db *sql.DB) *gin.Engine {
	t.Helper()
	r := gin.New()
	h := NewAdminHandler(NewRepo(db), nil)
	h.RegisterRoutes(r.Group("/api"))
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateMirror(t *testing.T) {
	db := newTestDB(t)
	r := newAdminRouter(t, db)

	rec := doJSON(t, r, http.MethodPost, "/api/mirrors", gin.H{"name": "alpha", "tier": 1, "notes": "new"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	m, err := NewRepo(db).MirrorByName(context.Background(), "alpha")
	if err != nil || m == nil {
		t.Fatalf("read back mirror: %v, %v", m, err)
	}
	if m.Tier != 1 || !m.Public || !m.Active || m.Notes != "new" {
		t.Errorf("created mirror = %+v", m)
	}

	// same name again
	if rec := doJSON(t, r, http.MethodPost, "/api/mirrors", gin.H{"name": "alpha"}); rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	testCases := []struct {
		name string
		body gin.H
	}{
		{name: "empty name", body: gin.H{"name": "  "}},
		{name: "name with slash", body: gin.H{"name": "a/b"}},
		{name: "name with space", body: gin.H{"name": "a b"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := doJSON(t, r, http.MethodPost, "/api/mirrors", tc.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreateMirrorDefaults(t *testing.T) {
	db := newTestDB(t)
	r := newAdminRouter(t, db)

	rec := doJSON(t, r, http.MethodPost, "/api/mirrors", gin.H{"name": "plain"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	m, err := NewRepo(db).MirrorByName(context.Background(), "plain")
	if err != nil || m == nil {
		t.Fatalf("read back mirror: %v", err)
	}
	if m.Tier != 2 || !m.Public || !m.Active {
		t.Errorf("defaults = %+v", m)
	}
}

func TestUpdateMirror(t *testing.T) {
	db := newTestDB(t)
	seedMirror(t, db, "alpha", 2, true, true)
	r := newAdminRouter(t, db)

	rec := doJSON(t, r, http.MethodPut, "/api/mirrors/alpha", gin.H{"public": false, "tier": 0, "notes": "maintenance"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	m, err := NewRepo(db).MirrorByName(context.Background(), "alpha")
	if err != nil || m == nil {
		t.Fatalf("read back mirror: %v", err)
	}
	if m.Public || m.Tier != 0 || m.Notes != "maintenance" {
		t.Errorf("updated mirror = %+v", m)
	}
	// untouched fields stay put
	if !m.Active {
		t.Error("active flag flipped without being in the request")
	}

	if rec := doJSON(t, r, http.MethodPut, "/api/mirrors/ghost", gin.H{"tier": 1}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown mirror status = %d, want 404", rec.Code)
	}
}

func TestDeleteMirrorCascades(t *testing.T) {
	db := newTestDB(t)
	mID := seedMirror(t, db, "alpha", 1, true, true)
	uID := seedURL(t, db, mID, "https://alpha.example.com/", "https", "DE", true)
	seedLog(t, db, uID, time.Now().UTC(), nil, nil, false, "x", nil)
	r := newAdminRouter(t, db)

	rec := doJSON(t, r, http.MethodDelete, "/api/mirrors/alpha", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var urls, logs int
	if err := db.QueryRow(`SELECT COUNT(*) FROM mirror_urls`).Scan(&urls); err != nil {
		t.Fatalf("count urls: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM mirror_logs`).Scan(&logs); err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if urls != 0 || logs != 0 {
		t.Errorf("after delete: %d urls, %d logs, want 0/0", urls, logs)
	}

	if rec := doJSON(t, r, http.MethodDelete, "/api/mirrors/alpha", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestAddURL(t *testing.T) {
	db := newTestDB(t)
	seedMirror(t, db, "alpha", 1, true, true)
	r := newAdminRouter(t, db)

	rec := doJSON(t, r, http.MethodPost, "/api/mirrors/alpha/urls", gin.H{
		"url":     "https://alpha.example.com/archlinux",
		"country": "de",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		URL struct {
			ID       int64  `json:"id"`
			URL      string `json:"url"`
			Protocol string `json:"protocol"`
			Country  string `json:"country_code"`
		} `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.URL.URL != "https://alpha.example.com/archlinux/" {
		t.Errorf("url = %q, want trailing slash appended", resp.URL.URL)
	}
	// protocol derived from the scheme, country upper-cased
	if resp.URL.Protocol != "https" || resp.URL.Country != "DE" {
		t.Errorf("url = %+v", resp.URL)
	}

	if rec := doJSON(t, r, http.MethodPost, "/api/mirrors/ghost/urls", gin.H{"url": "https://x.example.com/"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown mirror status = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodPost, "/api/mirrors/alpha/urls", gin.H{"url": ""}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty url status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodPost, "/api/mirrors/alpha/urls", gin.H{"url": "alpha.example.com/archlinux"}); rec.Code != http.StatusBadRequest {
		t.Errorf("schemeless url status = %d, want 400", rec.Code)
	}
}

func TestCreateLocationEndpoint(t *testing.T) {
	db := newTestDB(t)
	r := newAdminRouter(t, db)

	rec := doJSON(t, r, http.MethodPost, "/api/locations", gin.H{
		"hostname":  "probe1",
		"source_ip": "203.0.113.10",
		"country":   "us",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	locs, err := NewRepo(db).Locations(context.Background())
	if err != nil {
		t.Fatalf("Locations() error = %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("got %d locations, want 1", len(locs))
	}
	if locs[0].Hostname != "probe1" || locs[0].IPVersion != 4 || locs[0].CountryCode.Code() != "US" {
		t.Errorf("location = %+v", locs[0])
	}

	if rec := doJSON(t, r, http.MethodPost, "/api/locations", gin.H{"hostname": "probe2"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing source_ip status = %d, want 400", rec.Code)
	}
}
