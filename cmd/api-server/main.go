package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"mirrorhub/internal/auth"
	"mirrorhub/internal/config"
	"mirrorhub/internal/live"
	"mirrorhub/internal/logger"
	"mirrorhub/internal/mirrors"
	"mirrorhub/pkg/database"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Init(*verbose, "")
	defer logger.Sync()

	dbCfg := database.DefaultConfig()
	if cfg.Database.Path != "" {
		dbCfg.Path = cfg.Database.Path
	}
	db := database.MustOpen(dbCfg)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	if !*verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// avoid the "trusted all proxies" warning
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.SetFuncMap(mirrors.TemplateFuncs())
	router.LoadHTMLGlob(cfg.Server.Templates + "/*.html")

	mirrorRepo := mirrors.NewRepo(db)

	// Live feed: websocket hub plus a watcher that broadcasts whenever new
	// check results land.
	hub := live.NewHub()
	router.GET("/ws", live.WSHandler(hub))

	watcher := live.NewWatcher(hub, cfg.Server.WatchInterval.Std(), func(ctx context.Context) (time.Time, bool) {
		t, err := mirrorRepo.LastCheckTime(ctx)
		if err != nil || t == nil {
			return time.Time{}, false
		}
		return *t, true
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": dbCfg.Path})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":     "not_ready",
				"db_error":   err.Error(),
				"ws_clients": stats.WSClients,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":     "ready",
			"db":         "ok",
			"ws_clients": stats.WSClients,
		})
	})

	// Auth
	tokenSvc := auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTTTL.Std(),
	}
	authRepo := auth.NewRepo(db)
	authHandler := auth.NewHandler(authRepo, tokenSvc)
	authHandler.RegisterRoutes(router.Group("/auth"))

	// Mirror views: public, with optional identification so operators see
	// private mirrors too
	pageCache := mirrors.NewPageCache(cfg.Status.CacheTTL.Std())
	mirrorHandler := mirrors.NewHandler(mirrorRepo, cfg.Status)
	mirrorGroup := router.Group("/mirrors")
	mirrorGroup.Use(auth.Identify(tokenSvc, authRepo))
	mirrorHandler.RegisterRoutes(mirrorGroup, pageCache)

	// Admin API (protected)
	api := router.Group("/api")
	api.Use(auth.AuthMiddleware(tokenSvc, authRepo))
	api.GET("/me", func(c *gin.Context) {
		claims := auth.MustGetClaims(c)
		c.JSON(http.StatusOK, gin.H{
			"id":       claims.UserID,
			"username": claims.Username,
			"email":    claims.Email,
		})
	})
	adminHandler := mirrors.NewAdminHandler(mirrorRepo, hub)
	adminHandler.RegisterRoutes(api)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher.Run(watchCtx)
	}()

	var udpSrv *live.UDPListener
	if cfg.Server.NotifyAddr != "" {
		udpSrv = live.NewUDPListener(cfg.Server.NotifyAddr, func(msg live.ChecksDoneMessage) {
			watcher.Kick()
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := udpSrv.Run(); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Log.Infow("http server listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Log.Infow("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Log.Errorw("server error", "error", err)
	}

	logger.Log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorw("http shutdown error", "error", err)
	}
	stopWatch()
	if udpSrv != nil {
		if err := udpSrv.Close(); err != nil {
			logger.Log.Errorw("udp shutdown error", "error", err)
		}
	}

	wg.Wait()
	logger.Log.Infow("stopped")
}
