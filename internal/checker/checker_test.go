package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mirrorhub/pkg/models"
)

func TestCheckURL(t *testing.T) {
	testCases := []struct {
		name      string
		handler   http.HandlerFunc
		closed    bool
		success   bool
		wantError string
		wantSync  *time.Time
		duration  bool
	}{
		{
			name: "parseable lastsync",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("1755600000\n"))
			},
			success:  true,
			wantSync: func() *time.Time { s := time.Unix(1755600000, 0).UTC(); return &s }(),
			duration: true,
		},
		{
			name: "unparseable lastsync",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>soft 404</html>"))
			},
			wantError: "unable to parse lastsync",
			duration:  true,
		},
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			wantError: "HTTP 404",
			duration:  true,
		},
		{
			name:    "unreachable mirror",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			closed:  true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/lastsync" {
					t.Errorf("probed path = %q, want /lastsync", r.URL.Path)
				}
				tc.handler(w, r)
			}))
			defer srv.Close()
			if tc.closed {
				srv.Close()
			}

			client := &http.Client{Timeout: 2 * time.Second}
			u := models.MirrorURL{ID: 42, URL: srv.URL + "/"}
			res := checkURL(context.Background(), client, u, Options{})

			if res.URLID != 42 {
				t.Errorf("URLID = %d", res.URLID)
			}
			if res.CheckTime.IsZero() {
				t.Error("CheckTime not set")
			}
			if res.Success != tc.success {
				t.Errorf("Success = %v, want %v (error %q)", res.Success, tc.success, res.Error)
			}
			if tc.wantError != "" && res.Error != tc.wantError {
				t.Errorf("Error = %q, want %q", res.Error, tc.wantError)
			}
			if tc.closed && res.Error == "" {
				t.Error("transport failure left Error empty")
			}
			if tc.duration && res.Duration == nil {
				t.Error("Duration missing for a completed request")
			}
			// a probe that never got a response has no meaningful duration
			if !tc.duration && res.Duration != nil {
				t.Errorf("Duration = %v, want nil", *res.Duration)
			}
			if tc.wantSync != nil {
				if res.LastSync == nil || !res.LastSync.Equal(*tc.wantSync) {
					t.Errorf("LastSync = %v, want %v", res.LastSync, tc.wantSync)
				}
			} else if res.LastSync != nil {
				t.Errorf("LastSync = %v, want nil", res.LastSync)
			}
		})
	}
}

func TestCheckURLUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.Write([]byte("1755600000"))
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	u := models.MirrorURL{URL: srv.URL + "/"}

	checkURL(context.Background(), client, u, Options{})
	if got != DefaultUserAgent {
		t.Errorf("default User-Agent = %q, want %q", got, DefaultUserAgent)
	}

	checkURL(context.Background(), client, u, Options{UserAgent: "custom/2.0"})
	if got != "custom/2.0" {
		t.Errorf("custom User-Agent = %q", got)
	}
}

func TestCheckAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/bad/") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("1755600000"))
	}))
	defer srv.Close()

	urls := []models.MirrorURL{
		{ID: 1, URL: srv.URL + "/good/", Protocol: "https"},
		{ID: 2, URL: srv.URL + "/bad/", Protocol: "http"},
		{ID: 3, URL: "rsync://mirror.example.com/archlinux/", Protocol: "rsync"},
	}

	results := CheckAll(context.Background(), urls, Options{Workers: 2, Timeout: 2 * time.Second})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (rsync skipped)", len(results))
	}

	byID := make(map[int64]Result, len(results))
	for _, r := range results {
		byID[r.URLID] = r
	}
	if r, ok := byID[1]; !ok || !r.Success {
		t.Errorf("url 1 = %+v, want success", r)
	}
	if r, ok := byID[2]; !ok || r.Success || r.Error != "HTTP 500" {
		t.Errorf("url 2 = %+v, want HTTP 500", r)
	}
	if _, ok := byID[3]; ok {
		t.Error("rsync url was probed")
	}
}

func TestCheckAllNothingProbeable(t *testing.T) {
	urls := []models.MirrorURL{
		{ID: 1, URL: "rsync://mirror.example.com/", Protocol: "rsync"},
	}
	if results := CheckAll(context.Background(), urls, Options{}); results != nil {
		t.Errorf("results = %+v, want nil", results)
	}
}
