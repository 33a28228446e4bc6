package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"mirrorhub/internal/config"
	"mirrorhub/internal/mirrors"
	"mirrorhub/pkg/database"
)

// Generates a client-side mirrorlist: in-sync servers ordered best score
// first, optionally narrowed by protocol and country.
func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml (optional)")
		out        = flag.String("o", "", "output path, empty writes to stdout")
		protocols  = flag.String("protocol", "", "comma separated protocol filter, e.g. https")
		countries  = flag.String("country", "", "comma separated country code filter, e.g. DE,FR")
		max        = flag.Int("max", 0, "cap the number of servers, 0 means all")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbCfg := database.DefaultConfig()
	if cfg.Database.Path != "" {
		dbCfg.Path = cfg.Database.Path
	}
	db := database.MustOpen(dbCfg)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo := mirrors.NewRepo(db)
	report, err := repo.MirrorStatuses(ctx, mirrors.StatusOptions{Cutoff: cfg.Status.Cutoff.Std()})
	if err != nil {
		log.Fatalf("compute statuses: %v", err)
	}

	protoSet := splitSet(*protocols, false)
	countrySet := splitSet(*countries, true)
	badDelay := cfg.Status.BadDelay.Std()

	type scored struct {
		url   string
		score float64
	}
	var picks []scored
	for _, du := range report.URLs {
		st := du.Status
		if st == nil || st.Score == nil {
			continue
		}
		if st.Delay == nil || *st.Delay > badDelay {
			continue
		}
		if len(protoSet) > 0 && !protoSet[du.Protocol] {
			continue
		}
		if len(countrySet) > 0 && !countrySet[du.CountryCode.Code()] {
			continue
		}
		picks = append(picks, scored{url: du.URL, score: *st.Score})
	}
	sort.Slice(picks, func(i, j int) bool { return picks[i].score < picks[j].score })
	if *max > 0 && len(picks) > *max {
		picks = picks[:*max]
	}

	var b strings.Builder
	b.WriteString("##\n")
	b.WriteString("## Mirrorlist generated by mirrorhub on " + time.Now().UTC().Format("2006-01-02") + "\n")
	b.WriteString("## Fastest in-sync servers first\n")
	b.WriteString("##\n\n")
	for _, p := range picks {
		fmt.Fprintf(&b, "Server = %s$repo/os/$arch\n", p.url)
	}

	if *out == "" {
		fmt.Print(b.String())
		return
	}
	if err := os.WriteFile(*out, []byte(b.String()), 0o644); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	log.Printf("✅ wrote %d servers to %s", len(picks), *out)
}

func splitSet(raw string, upper bool) map[string]bool {
	set := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if upper {
			part = strings.ToUpper(part)
		} else {
			part = strings.ToLower(part)
		}
		set[part] = true
	}
	return set
}
