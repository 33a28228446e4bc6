package live

import "time"

const (
	EventStatusUpdate = "status.update"
	EventMirrorUpdate = "mirror.update"
	EventMirrorDelete = "mirror.delete"
)

// StatusEvent tells clients that fresh check results landed and status
// payloads are worth refetching.
type StatusEvent struct {
	Type      string     `json:"type"` // "status.update"
	LastCheck *time.Time `json:"last_check"`
	At        time.Time  `json:"at"`
}

// MirrorEvent tells clients that the mirror roster changed.
type MirrorEvent struct {
	Type   string    `json:"type"` // "mirror.update" or "mirror.delete"
	Mirror string    `json:"mirror"`
	At     time.Time `json:"at"`
}

func NewStatusEvent(lastCheck *time.Time) StatusEvent {
	return StatusEvent{
		Type:      EventStatusUpdate,
		LastCheck: lastCheck,
		At:        time.Now().UTC(),
	}
}

func NewMirrorEvent(typ, mirror string) MirrorEvent {
	return MirrorEvent{
		Type:   typ,
		Mirror: mirror,
		At:     time.Now().UTC(),
	}
}
