package mirrors

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"mirrorhub/internal/auth"
	"mirrorhub/internal/config"
	"mirrorhub/internal/logger"
	"mirrorhub/pkg/models"
)

type Handler struct {
	Repo *Repo
	Cfg  config.StatusConfig
}

func NewHandler(repo *Repo, cfg config.StatusConfig) *Handler {
	return &Handler{Repo: repo, Cfg: cfg}
}

// RegisterRoutes mounts the mirror views on the given group. The status
// routes share a Last-Modified precheck; the JSON variants additionally sit
// behind the page cache.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, cache *PageCache) {
	lastMod := LastModified(h.lastModified)

	rg.GET("", h.list)
	rg.GET("/status", lastMod, h.statusPage)
	rg.GET("/status/tier/:tier", lastMod, h.statusPage)
	rg.GET("/status/json", cache.Middleware(), lastMod, h.statusJSON)
	rg.GET("/status/tier/:tier/json", cache.Middleware(), lastMod, h.statusJSON)
	rg.GET("/locations/json", h.locationsJSON)
	rg.GET("/:name", h.mirrorDetails)
	rg.GET("/:name/json", h.mirrorDetailsJSON)
	rg.GET("/:name/:id", h.urlDetails)
}

// lastModified backs the conditional GET precheck. It looks at the newest
// check across all logs regardless of any tier filter, trading a harmless
// extra rebuild for a single cheap query.
func (h *Handler) lastModified(c *gin.Context) (time.Time, bool) {
	t, err := h.Repo.LastCheckTime(c.Request.Context())
	if err != nil {
		logger.Log.Errorw("last check time", "error", err)
		return time.Time{}, false
	}
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	logger.Log.Errorw("mirror view failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// The not-found helpers answer unknown and unauthorized names identically,
// so probing cannot tell a private mirror from a missing one.
func (h *Handler) notFoundJSON(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func (h *Handler) notFoundHTML(c *gin.Context) {
	c.HTML(http.StatusNotFound, "404.html", nil)
}

// canSee reports whether the caller may know this mirror exists.
func canSee(m *models.Mirror, authorized bool) bool {
	if m == nil {
		return false
	}
	return authorized || (m.Public && m.Active)
}

type mirrorRow struct {
	models.Mirror
	Protocols []string
	Country   models.Country
}

func (h *Handler) list(c *gin.Context) {
	ctx := c.Request.Context()
	authorized := auth.IsAuthorized(c)

	mirrorList, err := h.Repo.ListMirrors(ctx, authorized)
	if err != nil {
		h.fail(c, err)
		return
	}
	protocols, err := h.Repo.URLProtocols(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	countries, err := h.Repo.URLCountries(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	rows := make([]mirrorRow, 0, len(mirrorList))
	for _, m := range mirrorList {
		row := mirrorRow{Mirror: m, Protocols: protocols[m.ID]}
		// A mirror spanning several countries gets no single flag.
		if cc := countries[m.ID]; len(cc) == 1 {
			row.Country = cc[0]
		}
		rows = append(rows, row)
	}

	c.HTML(http.StatusOK, "mirrors.html", gin.H{
		"Mirrors":    rows,
		"Authorized": authorized,
	})
}

func (h *Handler) mirrorDetails(c *gin.Context) {
	ctx := c.Request.Context()
	authorized := auth.IsAuthorized(c)

	m, err := h.Repo.MirrorByName(ctx, c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !canSee(m, authorized) {
		h.notFoundHTML(c)
		return
	}

	report, err := h.Repo.MirrorStatuses(ctx, StatusOptions{
		MirrorID: m.ID,
		ShowAll:  authorized,
		Cutoff:   h.Cfg.Cutoff.Std(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	all, err := h.Repo.MirrorURLs(ctx, m.ID, !authorized)
	if err != nil {
		h.fail(c, err)
		return
	}
	urls := MergeURLs(all, report.URLs)

	// Visibility was already settled above, so the error list can skip the
	// public filter and show everything for this mirror.
	errs, err := h.Repo.MirrorErrors(ctx, StatusOptions{
		MirrorID: m.ID,
		ShowAll:  true,
		Cutoff:   h.Cfg.ErrorCutoff.Std(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.HTML(http.StatusOK, "mirror_details.html", gin.H{
		"Mirror":     m,
		"URLs":       urls,
		"Errors":     errs,
		"Authorized": authorized,
	})
}

func (h *Handler) mirrorDetailsJSON(c *gin.Context) {
	ctx := c.Request.Context()
	authorized := auth.IsAuthorized(c)

	m, err := h.Repo.MirrorByName(ctx, c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !canSee(m, authorized) {
		h.notFoundJSON(c)
		return
	}

	report, err := h.Repo.MirrorStatuses(ctx, StatusOptions{
		MirrorID: m.ID,
		ShowAll:  authorized,
		Cutoff:   h.Cfg.Cutoff.Std(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	ids := make([]int64, 0, len(report.URLs))
	for _, du := range report.URLs {
		ids = append(ids, du.ID)
	}
	since := time.Now().Add(-h.Cfg.Cutoff.Std())
	logs, err := h.Repo.URLLogs(ctx, ids, since)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, buildExtStatusDoc(report, logs))
}

func (h *Handler) urlDetails(c *gin.Context) {
	ctx := c.Request.Context()
	authorized := auth.IsAuthorized(c)

	urlID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.notFoundHTML(c)
		return
	}
	m, err := h.Repo.MirrorByName(ctx, c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !canSee(m, authorized) {
		h.notFoundHTML(c)
		return
	}
	u, err := h.Repo.URLByID(ctx, m.Name, urlID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if u == nil || (!authorized && !u.Active) {
		h.notFoundHTML(c)
		return
	}

	since := time.Now().Add(-h.Cfg.ErrorCutoff.Std())
	logs, err := h.Repo.URLLogEntries(ctx, u.ID, since)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.HTML(http.StatusOK, "url_details.html", gin.H{
		"Mirror": m,
		"URL":    u,
		"Logs":   logs,
	})
}

func (h *Handler) statusPage(c *gin.Context) {
	ctx := c.Request.Context()

	tier, ok := h.parseTier(c)
	if !ok {
		h.notFoundHTML(c)
		return
	}

	report, err := h.Repo.MirrorStatuses(ctx, StatusOptions{Cutoff: h.Cfg.Cutoff.Std()})
	if err != nil {
		h.fail(c, err)
		return
	}

	good, bad := partitionURLs(report.URLs, tier, h.Cfg.BadDelay.Std())

	errs, err := h.Repo.MirrorErrors(ctx, StatusOptions{Cutoff: h.Cfg.Cutoff.Std()})
	if err != nil {
		h.fail(c, err)
		return
	}
	if tier != nil {
		kept := make([]*MirrorError, 0, len(errs))
		for _, e := range errs {
			if e.Tier == *tier {
				kept = append(kept, e)
			}
		}
		errs = kept
	}

	data := gin.H{
		"Report": report,
		"Good":   good,
		"Bad":    bad,
		"Errors": errs,
	}
	if tier != nil {
		data["Tier"] = *tier
		data["TierName"] = models.TierName(*tier)
	}
	c.HTML(http.StatusOK, "status.html", data)
}

func (h *Handler) statusJSON(c *gin.Context) {
	ctx := c.Request.Context()

	tier, ok := h.parseTier(c)
	if !ok {
		h.notFoundJSON(c)
		return
	}

	report, err := h.Repo.MirrorStatuses(ctx, StatusOptions{Cutoff: h.Cfg.Cutoff.Std()})
	if err != nil {
		h.fail(c, err)
		return
	}
	if tier != nil {
		kept := make([]*DisplayURL, 0, len(report.URLs))
		for _, du := range report.URLs {
			if du.Tier == *tier {
				kept = append(kept, du)
			}
		}
		report.URLs = kept
	}

	c.JSON(http.StatusOK, buildStatusDoc(report))
}

func (h *Handler) locationsJSON(c *gin.Context) {
	locs, err := h.Repo.Locations(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, buildLocationsDoc(locs))
}

// parseTier reads the optional :tier path parameter. ok=false means the
// value was present but not a configured tier, which the views turn into a
// not found response.
func (h *Handler) parseTier(c *gin.Context) (*int, bool) {
	raw := c.Param("tier")
	if raw == "" {
		return nil, true
	}
	tier, err := strconv.Atoi(raw)
	if err != nil {
		return nil, false
	}
	if !h.Cfg.ValidTier(tier) {
		return nil, false
	}
	return &tier, true
}

// partitionURLs splits checked URLs into syncing and out-of-sync sets for the
// status page. URLs whose delay is unknown or above badDelay count as out of
// sync; the rest sort by score, worst delays sort to the bottom.
func partitionURLs(urls []*DisplayURL, tier *int, badDelay time.Duration) (good, bad []*DisplayURL) {
	for _, du := range urls {
		if tier != nil && du.Tier != *tier {
			continue
		}
		st := du.Status
		if st == nil {
			// never checked inside the window
			continue
		}
		switch {
		case st.Delay == nil:
			bad = append(bad, du)
		case *st.Delay > badDelay:
			bad = append(bad, du)
		default:
			good = append(good, du)
		}
	}
	sortByScore(good)
	sortByDelay(bad)
	return good, bad
}

func sortByScore(urls []*DisplayURL) {
	sort.SliceStable(urls, func(i, j int) bool {
		si, sj := urls[i].Status.Score, urls[j].Status.Score
		switch {
		case si == nil:
			return false
		case sj == nil:
			return true
		default:
			return *si < *sj
		}
	})
}

func sortByDelay(urls []*DisplayURL) {
	sort.SliceStable(urls, func(i, j int) bool {
		di, dj := urls[i].Status.Delay, urls[j].Status.Delay
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return *di < *dj
		}
	})
}
