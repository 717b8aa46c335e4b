// ClubOS remote actions server. Facility staff submit device actions
// (restart TrackMan, reboot a bay PC) over HTTP; the server authorizes,
// dispatches through the RMM provider or the built-in simulator, tracks
// each job to a terminal state and keeps a git-backed audit trail.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/api"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/audit"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clock"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/config"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/credentials"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/dispatch"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/gate"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/metrics"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/notify"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/registry"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/rmm"
)

const (
	// HTTP timeouts. Submit waits synchronously on the provider (token
	// exchange plus dispatch, both retried), so the write timeout must
	// outlast those retries.
	readTimeout  = 15 * time.Second
	writeTimeout = 120 * time.Second
	idleTimeout  = 60 * time.Second

	shutdownTimeout = 10 * time.Second
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	port       = flag.String("port", "8080", "Server port")
	apiKey     = flag.String("api-key", "", "API key for authentication (optional but recommended)")
	auditRepo  = flag.String("audit-repo", "", "Git repository for the audit trail (URL or local path)")
	devices    = flag.String("devices", "", "Device registry YAML (empty uses the embedded demo registry)")
	actions    = flag.String("actions", "", "Action catalog YAML (empty uses the embedded catalog)")
	roles      = flag.String("roles", "", "Role directory YAML (empty uses the embedded demo directory)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ERROR] Failed to load config: %v", err)
	}
	if *auditRepo != "" {
		cfg.Audit.Repo = *auditRepo
	}
	if *devices != "" {
		cfg.Devices = *devices
	}
	if *actions != "" {
		cfg.Actions = *actions
	}
	if *roles != "" {
		cfg.Roles = *roles
	}

	mode := cfg.Mode()
	if missing := cfg.MissingRMM(); len(missing) > 0 && len(missing) < 3 {
		log.Printf("[WARN] RMM credentials incomplete (missing %s), falling back to demo mode",
			strings.Join(missing, ", "))
	}
	log.Printf("[INFO] Starting in %s mode", mode)

	deviceRegistry, err := registry.LoadDevices(cfg.Devices)
	if err != nil {
		log.Fatalf("[ERROR] Failed to load device registry: %v", err)
	}
	actionCatalog, err := registry.LoadActions(cfg.Actions)
	if err != nil {
		log.Fatalf("[ERROR] Failed to load action catalog: %v", err)
	}
	directory, err := gate.LoadDirectory(cfg.Roles)
	if err != nil {
		log.Fatalf("[ERROR] Failed to load role directory: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := cfg.Audit.Repo
	if repo == "" {
		repo = defaultAuditRepo()
		log.Printf("[INFO] No audit repo configured, using %s", repo)
	}
	store, err := audit.NewStore(ctx, repo)
	if err != nil {
		log.Fatalf("[ERROR] Failed to initialize audit store: %v", err)
	}
	trail, err := audit.NewLogger(ctx, store, clock.Real())
	if err != nil {
		log.Fatalf("[ERROR] Failed to load audit trail: %v", err)
	}
	log.Printf("[INFO] Audit trail loaded with %d records", trail.Size())

	var executor rmm.Executor
	if mode == clubos.ModeProduction {
		provider := credentials.New(cfg.RMM.BaseURL, cfg.RMM.ClientID, cfg.RMM.ClientSecret, clock.Real())
		executor = rmm.NewClient(cfg.RMM.BaseURL, provider)
		log.Printf("[INFO] RMM provider: %s", cfg.RMM.BaseURL)
	} else {
		executor = rmm.NewSimulator(clock.Real())
		log.Print("[INFO] Demo mode: dispatching to the built-in simulator")
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Channel)
		log.Print("[INFO] Webhook notifications enabled")
	} else {
		log.Print("[WARN] No webhook configured, terminal notifications disabled")
	}

	if *apiKey != "" {
		log.Print("[INFO] API key authentication enabled")
	} else {
		log.Print("[WARN] Running without API key authentication")
	}

	dispatcher := dispatch.New(dispatch.Options{
		Executor:        executor,
		Devices:         deviceRegistry,
		Actions:         actionCatalog,
		Gate:            directory,
		Audit:           trail,
		Notifier:        notifier,
		Metrics:         metrics.New(),
		Clock:           clock.Real(),
		Mode:            mode,
		PollInterval:    cfg.PollInterval(),
		TimeoutNormal:   cfg.TimeoutNormal(),
		TimeoutCritical: cfg.TimeoutCritical(),
	})
	log.Printf("[INFO] Poll configuration: interval=%v, timeout_normal=%v, timeout_critical=%v",
		cfg.PollInterval(), cfg.TimeoutNormal(), cfg.TimeoutCritical())

	server := api.NewServer(api.Options{
		Dispatcher: dispatcher,
		Actions:    actionCatalog,
		Devices:    deviceRegistry,
		Audit:      trail,
		APIKey:     *apiKey,
		Mode:       mode,
	})

	srv := &http.Server{
		Addr:           ":" + *port,
		Handler:        server.Router(),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: 1 << 16, // 64KB max header size
	}

	go func() {
		log.Printf("[INFO] Server starting on port %s", *port)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[ERROR] Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("[INFO] Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Server shutdown error: %v", err)
	}
	dispatcher.Close()
	log.Println("[INFO] Server shutdown complete")
}

// defaultAuditRepo keeps the trail under the user's home so it survives
// restarts; the temp dir is a last resort.
func defaultAuditRepo() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "clubos-audit")
	}
	return filepath.Join(home, ".clubos", "audit")
}
