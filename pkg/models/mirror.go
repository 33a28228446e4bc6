package models

import (
	"fmt"
	"time"
)

type Mirror struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Tier      int       `json:"tier"`
	Public    bool      `json:"public"`
	Active    bool      `json:"active"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MirrorURL is one fetchable endpoint of a mirror. MirrorName and Tier are
// filled by queries that join the mirrors table; they are not columns of
// mirror_urls itself.
type MirrorURL struct {
	ID          int64   `json:"id"`
	MirrorID    int64   `json:"mirror_id"`
	URL         string  `json:"url"`
	Protocol    string  `json:"protocol"`
	CountryCode Country `json:"country_code"`
	Active      bool    `json:"active"`

	MirrorName string `json:"mirror,omitempty"`
	Tier       int    `json:"-"`
}

type CheckLocation struct {
	ID          int64     `json:"id"`
	Hostname    string    `json:"hostname"`
	SourceIP    string    `json:"source_ip"`
	CountryCode Country   `json:"country_code"`
	IPVersion   int       `json:"ip_version"`
	CreatedAt   time.Time `json:"created_at"`
}

// MirrorLog is one probe outcome. Duration is in seconds and stays nil when
// the probe failed before any response arrived. LastSync is nil unless the
// mirror reported a parseable sync timestamp.
type MirrorLog struct {
	ID         int64      `json:"id"`
	URLID      int64      `json:"url_id"`
	LocationID *int64     `json:"location_id"`
	CheckTime  time.Time  `json:"check_time"`
	LastSync   *time.Time `json:"last_sync"`
	Duration   *float64   `json:"duration"`
	IsSuccess  bool       `json:"is_success"`
	Error      string     `json:"error,omitempty"`
}

func TierName(tier int) string {
	if tier < 0 {
		return "Untiered"
	}
	return fmt.Sprintf("Tier %d", tier)
}

func IPVersionName(v int) string {
	switch v {
	case 4:
		return "IPv4"
	case 6:
		return "IPv6"
	default:
		return fmt.Sprintf("IPv%d", v)
	}
}
