package mirrors

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// LastModified adds conditional GET support around a handler. fresh reports
// when the underlying data last changed; requests carrying a matching
// If-Modified-Since get a 304 without running the handler.
func LastModified(fresh func(*gin.Context) (time.Time, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := fresh(c)
		if !ok {
			c.Next()
			return
		}
		// HTTP dates carry whole seconds only.
		t = t.UTC().Truncate(time.Second)
		c.Header("Last-Modified", t.Format(http.TimeFormat))
		if ims := c.GetHeader("If-Modified-Since"); ims != "" {
			if since, err := http.ParseTime(ims); err == nil && !t.After(since) {
				c.AbortWithStatus(http.StatusNotModified)
				return
			}
		}
		c.Next()
	}
}

type cacheEntry struct {
	status       int
	contentType  string
	body         []byte
	lastModified string
	expires      time.Time
}

// PageCache memoizes whole GET responses for a short TTL, keyed by request
// URI. Status payloads are identical for every anonymous client, so a tiny
// TTL absorbs scripted polling without a stale UI.
type PageCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*cacheEntry
}

func NewPageCache(ttl time.Duration) *PageCache {
	return &PageCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
	}
}

// Middleware replays a cached response when present, otherwise captures the
// downstream response and stores it when it was a plain 200. Replayed
// responses keep their original Last-Modified and still answer
// If-Modified-Since with a 304.
func (pc *PageCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if pc == nil || pc.ttl <= 0 || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		key := c.Request.RequestURI
		if e := pc.get(key); e != nil {
			if e.lastModified != "" {
				c.Header("Last-Modified", e.lastModified)
				if ims := c.GetHeader("If-Modified-Since"); ims != "" {
					since, err1 := http.ParseTime(ims)
					lm, err2 := http.ParseTime(e.lastModified)
					if err1 == nil && err2 == nil && !lm.After(since) {
						c.AbortWithStatus(http.StatusNotModified)
						return
					}
				}
			}
			c.Data(e.status, e.contentType, e.body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		if w.Status() == http.StatusOK {
			pc.put(key, &cacheEntry{
				status:       http.StatusOK,
				contentType:  w.Header().Get("Content-Type"),
				body:         w.buf.Bytes(),
				lastModified: w.Header().Get("Last-Modified"),
				expires:      time.Now().Add(pc.ttl),
			})
		}
	}
}

func (pc *PageCache) get(key string) *cacheEntry {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	e, ok := pc.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(e.expires) {
		delete(pc.entries, key)
		return nil
	}
	return e
}

func (pc *PageCache) put(key string, e *cacheEntry) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.entries[key] = e
}

// captureWriter tees the response body so a copy can be cached.
type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
