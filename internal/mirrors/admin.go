package mirrors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mirrorhub/internal/live"
	"mirrorhub/internal/logger"
	"mirrorhub/pkg/models"
)

func (r *Repo) CreateMirror(ctx context.Context, m *models.Mirror) error {
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO mirrors (name, tier, public, active, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.Name, m.Tier, m.Public, m.Active, m.Notes, now)
	if err != nil {
		return fmt.Errorf("create mirror: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create mirror id: %w", err)
	}
	m.ID = id
	m.CreatedAt = now
	return nil
}

// MirrorUpdate carries the mutable mirror fields; nil means leave as is.
type MirrorUpdate struct {
	Tier   *int
	Public *bool
	Active *bool
	Notes  *string
}

// UpdateMirror applies the non-nil fields and returns the updated mirror,
// or nil when no mirror has that name.
func (r *Repo) UpdateMirror(ctx context.Context, name string, upd MirrorUpdate) (*models.Mirror, error) {
	var (
		sets []string
		args []any
	)
	if upd.Tier != nil {
		sets = append(sets, "tier = ?")
		args = append(args, *upd.Tier)
	}
	if upd.Public != nil {
		sets = append(sets, "public = ?")
		args = append(args, *upd.Public)
	}
	if upd.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *upd.Active)
	}
	if upd.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *upd.Notes)
	}
	if len(sets) == 0 {
		return r.MirrorByName(ctx, name)
	}
	args = append(args, name)

	res, err := r.DB.ExecContext(ctx, `UPDATE mirrors SET `+strings.Join(sets, ", ")+` WHERE name = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update mirror: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update mirror: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return r.MirrorByName(ctx, name)
}

// DeleteMirror removes a mirror. URLs and logs go with it via the schema's
// cascades. Returns false when no mirror had that name.
func (r *Repo) DeleteMirror(ctx context.Context, name string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM mirrors WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete mirror: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete mirror: %w", err)
	}
	return n > 0, nil
}

func (r *Repo) ensureProtocol(ctx context.Context, label string) (int64, error) {
	if _, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO mirror_protocols (protocol) VALUES (?)`, label); err != nil {
		return 0, fmt.Errorf("ensure protocol: %w", err)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT id FROM mirror_protocols WHERE protocol = ?`, label).Scan(&id); err != nil {
		return 0, fmt.Errorf("protocol id: %w", err)
	}
	return id, nil
}

// AddURL attaches a URL to a mirror, creating the protocol row on first
// sight. URLs are stored with a trailing slash so the checker can append
// file names directly.
func (r *Repo) AddURL(ctx context.Context, mirrorID int64, rawURL, protocol string, country models.Country, active bool) (*models.MirrorURL, error) {
	if !strings.HasSuffix(rawURL, "/") {
		rawURL += "/"
	}
	protoID, err := r.ensureProtocol(ctx, protocol)
	if err != nil {
		return nil, err
	}
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO mirror_urls (mirror_id, url, protocol_id, country, active)
		VALUES (?, ?, ?, ?, ?)
	`, mirrorID, rawURL, protoID, country.Code(), active)
	if err != nil {
		return nil, fmt.Errorf("add url: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("add url id: %w", err)
	}
	return &models.MirrorURL{
		ID:          id,
		MirrorID:    mirrorID,
		URL:         rawURL,
		Protocol:    protocol,
		CountryCode: models.Country(country.Code()),
		Active:      active,
	}, nil
}

func (r *Repo) CreateLocation(ctx context.Context, loc *models.CheckLocation) error {
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO check_locations (hostname, source_ip, country, ip_version, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, loc.Hostname, loc.SourceIP, loc.CountryCode.Code(), loc.IPVersion, now)
	if err != nil {
		return fmt.Errorf("create location: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create location id: %w", err)
	}
	loc.ID = id
	loc.CreatedAt = now
	return nil
}

// AdminHandler exposes the authenticated management API. Mutations are
// announced on the live hub so status dashboards refresh without polling.
type AdminHandler struct {
	Repo *Repo
	Hub  *live.Hub
}

func NewAdminHandler(repo *Repo, hub *live.Hub) *AdminHandler {
	return &AdminHandler{Repo: repo, Hub: hub}
}

func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/mirrors", h.createMirror)
	rg.PUT("/mirrors/:name", h.updateMirror)
	rg.DELETE("/mirrors/:name", h.deleteMirror)
	rg.POST("/mirrors/:name/urls", h.addURL)
	rg.POST("/locations", h.createLocation)
}

func (h *AdminHandler) announce(typ, name string) {
	if h.Hub == nil {
		return
	}
	go h.Hub.BroadcastJSON(live.NewMirrorEvent(typ, name))
}

func (h *AdminHandler) fail(c *gin.Context, err error) {
	logger.Log.Errorw("admin request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (h *AdminHandler) createMirror(c *gin.Context) {
	var req struct {
		Name   string `json:"name"`
		Tier   *int   `json:"tier"`
		Public *bool  `json:"public"`
		Active *bool  `json:"active"`
		Notes  string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || strings.ContainsAny(req.Name, "/ ") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required and may not contain slashes or spaces"})
		return
	}

	ctx := c.Request.Context()
	existing, err := h.Repo.MirrorByName(ctx, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "mirror already exists"})
		return
	}

	m := &models.Mirror{
		Name:   req.Name,
		Tier:   2,
		Public: true,
		Active: true,
		Notes:  req.Notes,
	}
	if req.Tier != nil {
		m.Tier = *req.Tier
	}
	if req.Public != nil {
		m.Public = *req.Public
	}
	if req.Active != nil {
		m.Active = *req.Active
	}
	if err := h.Repo.CreateMirror(ctx, m); err != nil {
		h.fail(c, err)
		return
	}

	h.announce(live.EventMirrorUpdate, m.Name)
	c.JSON(http.StatusCreated, gin.H{"mirror": m})
}

func (h *AdminHandler) updateMirror(c *gin.Context) {
	var req struct {
		Tier   *int    `json:"tier"`
		Public *bool   `json:"public"`
		Active *bool   `json:"active"`
		Notes  *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	name := c.Param("name")
	m, err := h.Repo.UpdateMirror(c.Request.Context(), name, MirrorUpdate{
		Tier:   req.Tier,
		Public: req.Public,
		Active: req.Active,
		Notes:  req.Notes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	h.announce(live.EventMirrorUpdate, m.Name)
	c.JSON(http.StatusOK, gin.H{"mirror": m})
}

func (h *AdminHandler) deleteMirror(c *gin.Context) {
	name := c.Param("name")
	ok, err := h.Repo.DeleteMirror(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	h.announce(live.EventMirrorDelete, name)
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

func (h *AdminHandler) addURL(c *gin.Context) {
	var req struct {
		URL      string `json:"url"`
		Protocol string `json:"protocol"`
		Country  string `json:"country"`
		Active   *bool  `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	proto := req.Protocol
	if proto == "" {
		if i := strings.Index(req.URL, "://"); i > 0 {
			proto = req.URL[:i]
		}
	}
	if proto == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "protocol is required"})
		return
	}

	ctx := c.Request.Context()
	m, err := h.Repo.MirrorByName(ctx, c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	u, err := h.Repo.AddURL(ctx, m.ID, req.URL, proto, models.Country(req.Country), active)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.announce(live.EventMirrorUpdate, m.Name)
	c.JSON(http.StatusCreated, gin.H{"url": u})
}

func (h *AdminHandler) createLocation(c *gin.Context) {
	var req struct {
		Hostname  string `json:"hostname"`
		SourceIP  string `json:"source_ip"`
		Country   string `json:"country"`
		IPVersion int    `json:"ip_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Hostname == "" || req.SourceIP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hostname and source_ip are required"})
		return
	}
	if req.IPVersion == 0 {
		req.IPVersion = 4
	}

	loc := &models.CheckLocation{
		Hostname:    req.Hostname,
		SourceIP:    req.SourceIP,
		CountryCode: models.Country(req.Country),
		IPVersion:   req.IPVersion,
	}
	if err := h.Repo.CreateLocation(c.Request.Context(), loc); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"location": loc})
}
