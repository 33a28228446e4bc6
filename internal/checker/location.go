package checker

import (
	"context"
	"database/sql"
	"net"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"mirrorhub/internal/config"
	"mirrorhub/internal/logger"
	"mirrorhub/pkg/models"
)

// ResolveLocation works out where this checker runs and makes sure the
// matching location row exists, returning its id. Country comes from the
// config when set, otherwise from a GeoIP lookup of the source IP when a
// database is configured. Without a source IP the run stays anonymous and
// logs carry no location.
func ResolveLocation(ctx context.Context, db *sql.DB, cfg config.CheckerConfig) (*int64, error) {
	if cfg.SourceIP == "" {
		return nil, nil
	}

	hostname := cfg.Hostname
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}
	country := cfg.Country
	if country == "" && cfg.GeoIPPath != "" {
		country = lookupCountry(cfg.GeoIPPath, cfg.SourceIP)
	}
	ipVersion := 4
	if strings.Contains(cfg.SourceIP, ":") {
		ipVersion = 6
	}

	loc := &models.CheckLocation{
		Hostname:    hostname,
		SourceIP:    cfg.SourceIP,
		CountryCode: models.Country(country),
		IPVersion:   ipVersion,
	}
	if err := UpsertLocation(ctx, db, loc); err != nil {
		return nil, err
	}
	return &loc.ID, nil
}

// lookupCountry resolves an ISO code from a MaxMind country database.
// Failures are logged and swallowed; the country column stays empty.
func lookupCountry(path, ip string) string {
	db, err := geoip2.Open(path)
	if err != nil {
		logger.Log.Warnw("geoip open failed", "path", path, "error", err)
		return ""
	}
	defer db.Close()

	parsed := net.ParseIP(ip)
	if parsed == nil {
		logger.Log.Warnw("geoip skipped, source ip unparseable", "ip", ip)
		return ""
	}
	record, err := db.Country(parsed)
	if err != nil {
		logger.Log.Warnw("geoip lookup failed", "ip", ip, "error", err)
		return ""
	}
	return record.Country.IsoCode
}
