package live

import (
	"context"
	"time"

	"mirrorhub/internal/logger"
)

// Watcher polls the newest check time and broadcasts a status event
// whenever it advances. A kick skips the wait, so a checker nudge turns
// into a near-immediate broadcast instead of waiting out the interval.
type Watcher struct {
	Hub      *Hub
	Interval time.Duration
	Fresh    func(ctx context.Context) (time.Time, bool)

	kick chan struct{}
}

func NewWatcher(hub *Hub, interval time.Duration, fresh func(ctx context.Context) (time.Time, bool)) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{
		Hub:      hub,
		Interval: interval,
		Fresh:    fresh,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate poll. Safe from any goroutine; extra kicks
// collapse into one.
func (w *Watcher) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Watcher) Run(ctx context.Context) {
	var last time.Time
	if t, ok := w.Fresh(ctx); ok {
		last = t
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.kick:
		}

		t, ok := w.Fresh(ctx)
		if !ok || !t.After(last) {
			continue
		}
		last = t
		lc := t
		w.Hub.BroadcastJSON(NewStatusEvent(&lc))
		logger.Log.Debugw("status update broadcast", "last_check", t, "clients", w.Hub.Count())
	}
}
