package checker

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mirrorhub/internal/logger"
	"mirrorhub/pkg/models"
)

const DefaultUserAgent = "mirrorhub-checker/1.0"

type Options struct {
	Timeout   time.Duration
	Workers   int
	UserAgent string
	// RunID tags one sweep's log lines so overlapping runs can be told
	// apart when reading server logs.
	RunID string
}

// Result is the outcome of probing one URL.
type Result struct {
	URLID     int64
	CheckTime time.Time
	LastSync  *time.Time
	Duration  *float64
	Success   bool
	Error     string
}

// CheckAll probes every http(s) URL over a worker pool and returns one
// result per probed URL. Other protocols are skipped; they stay visible in
// listings but never accumulate logs.
func CheckAll(ctx context.Context, urls []models.MirrorURL, opts Options) []Result {
	workers := opts.Workers
	if workers <= 0 {
		workers = 10
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	probeable := make([]models.MirrorURL, 0, len(urls))
	for _, u := range urls {
		if u.Protocol == "http" || u.Protocol == "https" {
			probeable = append(probeable, u)
			continue
		}
		logger.Log.Debugw("skipping unprobed protocol",
			"run_id", opts.RunID, "url", u.URL, "protocol", u.Protocol)
	}
	if len(probeable) == 0 {
		return nil
	}
	if workers > len(probeable) {
		workers = len(probeable)
	}

	client := &http.Client{Timeout: timeout}
	jobs := make(chan models.MirrorURL)
	results := make(chan Result, len(probeable))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				r := checkURL(ctx, client, u, opts)
				logger.Log.Debugw("checked url",
					"run_id", opts.RunID, "url", u.URL,
					"success", r.Success, "error", r.Error)
				results <- r
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, u := range probeable {
			select {
			case jobs <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)

	out := make([]Result, 0, len(probeable))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// checkURL fetches the lastsync file a mirror publishes next to its package
// tree. The file holds the epoch seconds of the mirror's newest upstream
// sync; a mirror that serves it with a parseable value counts as a success.
func checkURL(ctx context.Context, client *http.Client, u models.MirrorURL, opts Options) Result {
	res := Result{URLID: u.ID}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL+"lastsync", nil)
	if err != nil {
		res.CheckTime = time.Now().UTC()
		res.Error = err.Error()
		return res
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	start := time.Now()
	resp, err := client.Do(req)
	res.CheckTime = time.Now().UTC()
	if err != nil {
		// no duration here: elapsed time would measure our timeout, not
		// the mirror
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	elapsed := time.Since(start).Seconds()
	res.Duration = &elapsed

	if resp.StatusCode != http.StatusOK {
		res.Error = "HTTP " + strconv.Itoa(resp.StatusCode)
		return res
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	epoch, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		res.Error = "unable to parse lastsync"
		return res
	}

	sync := time.Unix(epoch, 0).UTC()
	res.LastSync = &sync
	res.Success = true
	return res
}
