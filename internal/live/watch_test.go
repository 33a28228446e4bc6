package live

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestWatcherBroadcastsWhenChecksAdvance(t *testing.T) {
	hub := NewHub()
	srv := newWSServer(t, hub)
	ws := dialWS(t, srv)
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("read welcome: %v", err)
	}

	var (
		mu     sync.Mutex
		cur    = time.Now().UTC().Truncate(time.Second)
		seeded = make(chan struct{})
		once   sync.Once
	)
	fresh := func(ctx context.Context) (time.Time, bool) {
		mu.Lock()
		defer mu.Unlock()
		once.Do(func() { close(seeded) })
		return cur, true
	}

	// interval far away so only kicks drive the loop
	w := NewWatcher(hub, time.Hour, fresh)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	<-seeded

	mu.Lock()
	cur = cur.Add(time.Minute)
	want := cur
	mu.Unlock()
	w.Kick()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	var ev StatusEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != EventStatusUpdate {
		t.Errorf("Type = %q", ev.Type)
	}
	if ev.LastCheck == nil || !ev.LastCheck.Equal(want) {
		t.Errorf("LastCheck = %v, want %v", ev.LastCheck, want)
	}

	// a kick without fresh data stays silent
	w.Kick()
	_ = ws.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, extra, err := ws.ReadMessage(); err == nil {
		t.Errorf("unexpected broadcast without new checks: %s", extra)
	}
}

func TestWatcherKickNeverBlocks(t *testing.T) {
	w := NewWatcher(NewHub(), time.Hour, func(context.Context) (time.Time, bool) {
		return time.Time{}, false
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			w.Kick()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Kick blocked with no consumer")
	}
}

func TestWatcherDefaultInterval(t *testing.T) {
	w := NewWatcher(NewHub(), 0, nil)
	if w.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", w.Interval)
	}
}
