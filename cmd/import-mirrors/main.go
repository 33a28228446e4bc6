package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mirrorhub/pkg/database"
)

// importFile is the YAML shape this tool consumes. Booleans default to true
// when omitted, so a minimal entry is just a name and its URLs.
type importFile struct {
	Mirrors   []mirrorSpec   `yaml:"mirrors"`
	Locations []locationSpec `yaml:"locations"`
}

type mirrorSpec struct {
	Name   string    `yaml:"name"`
	Tier   *int      `yaml:"tier"`
	Public *bool     `yaml:"public"`
	Active *bool     `yaml:"active"`
	Notes  string    `yaml:"notes"`
	URLs   []urlSpec `yaml:"urls"`
}

type urlSpec struct {
	URL      string `yaml:"url"`
	Protocol string `yaml:"protocol"` // derived from the URL scheme when empty
	Country  string `yaml:"country"`
	Active   *bool  `yaml:"active"`
}

type locationSpec struct {
	Hostname  string `yaml:"hostname"`
	SourceIP  string `yaml:"source_ip"`
	Country   string `yaml:"country"`
	IPVersion int    `yaml:"ip_version"`
}

func main() {
	var (
		in = flag.String("file", "mirrors.yaml", "input YAML path")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db := database.MustOpen(database.DefaultConfig())
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		log.Fatalf("read %s: %v", *in, err)
	}
	var file importFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		log.Fatalf("parse %s: %v", *in, err)
	}

	mirrorCount, urlCount, err := importMirrors(ctx, db, file.Mirrors)
	if err != nil {
		log.Fatalf("import mirrors failed: %v", err)
	}
	locCount, err := importLocations(ctx, db, file.Locations)
	if err != nil {
		log.Fatalf("import locations failed: %v", err)
	}

	log.Printf("✅ imported %d mirrors, %d urls, %d locations from %s",
		mirrorCount, urlCount, locCount, *in)
}

func importMirrors(ctx context.Context, db *sql.DB, specs []mirrorSpec) (int, int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	mirrorStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mirrors (name, tier, public, active, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		  tier = excluded.tier,
		  public = excluded.public,
		  active = excluded.active,
		  notes = excluded.notes
	`)
	if err != nil {
		return 0, 0, err
	}
	defer mirrorStmt.Close()

	urlStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mirror_urls (mirror_id, url, protocol_id, country, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
		  mirror_id = excluded.mirror_id,
		  protocol_id = excluded.protocol_id,
		  country = excluded.country,
		  active = excluded.active
	`)
	if err != nil {
		return 0, 0, err
	}
	defer urlStmt.Close()

	mirrors, urls := 0, 0
	for _, spec := range specs {
		if spec.Name == "" {
			log.Printf("skipping mirror with empty name")
			continue
		}

		tier := 2
		if spec.Tier != nil {
			tier = *spec.Tier
		}
		if _, err := mirrorStmt.ExecContext(ctx,
			spec.Name, tier, boolOr(spec.Public, true), boolOr(spec.Active, true),
			spec.Notes, time.Now().UTC(),
		); err != nil {
			return 0, 0, fmt.Errorf("upsert mirror %s: %w", spec.Name, err)
		}
		mirrors++

		var mirrorID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM mirrors WHERE name = ?`, spec.Name).Scan(&mirrorID); err != nil {
			return 0, 0, fmt.Errorf("mirror id for %s: %w", spec.Name, err)
		}

		for _, u := range spec.URLs {
			if u.URL == "" {
				log.Printf("skipping empty url on mirror %s", spec.Name)
				continue
			}
			rawURL := u.URL
			if !strings.HasSuffix(rawURL, "/") {
				rawURL += "/"
			}
			proto := u.Protocol
			if proto == "" {
				if i := strings.Index(rawURL, "://"); i > 0 {
					proto = rawURL[:i]
				}
			}
			if proto == "" {
				return 0, 0, fmt.Errorf("no protocol for url %s on mirror %s", u.URL, spec.Name)
			}

			protoID, err := ensureProtocol(ctx, tx, proto)
			if err != nil {
				return 0, 0, err
			}
			if _, err := urlStmt.ExecContext(ctx,
				mirrorID, rawURL, protoID, strings.ToUpper(u.Country), boolOr(u.Active, true),
			); err != nil {
				return 0, 0, fmt.Errorf("upsert url %s: %w", rawURL, err)
			}
			urls++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return mirrors, urls, nil
}

func importLocations(ctx context.Context, db *sql.DB, specs []locationSpec) (int, error) {
	stmt, err := db.PrepareContext(ctx, `
		INSERT INTO check_locations (hostname, source_ip, country, ip_version, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_ip) DO UPDATE SET
		  hostname = excluded.hostname,
		  country = excluded.country,
		  ip_version = excluded.ip_version
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0
	for _, spec := range specs {
		if spec.Hostname == "" || spec.SourceIP == "" {
			log.Printf("skipping location without hostname or source_ip")
			continue
		}
		ipVersion := spec.IPVersion
		if ipVersion == 0 {
			ipVersion = 4
		}
		if _, err := stmt.ExecContext(ctx,
			spec.Hostname, spec.SourceIP, strings.ToUpper(spec.Country), ipVersion, time.Now().UTC(),
		); err != nil {
			return 0, fmt.Errorf("upsert location %s: %w", spec.SourceIP, err)
		}
		count++
	}
	return count, nil
}

func ensureProtocol(ctx context.Context, tx *sql.Tx, label string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO mirror_protocols (protocol) VALUES (?)`, label); err != nil {
		return 0, fmt.Errorf("ensure protocol %s: %w", label, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM mirror_protocols WHERE protocol = ?`, label).Scan(&id); err != nil {
		return 0, fmt.Errorf("protocol id for %s: %w", label, err)
	}
	return id, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
