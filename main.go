package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"reelay/api"
	"reelay/config"
	"reelay/handlers"
	"reelay/internal/database"
	"reelay/services/catalog"
	"reelay/services/credits"
	"reelay/services/library"
	"reelay/services/prefs"
	"reelay/services/recommend"
	"reelay/services/remote"
	"reelay/services/session"
	syncsvc "reelay/services/sync"
	"reelay/utils"

	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("🎬 Reelay Backend Starting...")

	configPath := os.Getenv("REELAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Generate the server PIN on first boot
	settings.Server.PIN = strings.TrimSpace(settings.Server.PIN)
	if settings.Server.PIN == "" {
		pin, err := utils.GeneratePIN()
		if err != nil {
			log.Fatalf("failed to generate PIN: %v", err)
		}
		settings.Server.PIN = pin
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist generated PIN: %v", err)
		}
		fmt.Println("📱 Configure your app to use this 6-digit PIN for authentication.")
	}
	fmt.Printf("🔑 Reelay PIN: %s\n", settings.Server.PIN)

	db, err := database.Open(settings.Storage.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	libraryService := library.NewService(db)

	remoteClient := remote.NewClient(settings.Remote.BaseURL, settings.Remote.APIKey)

	sessionService, err := session.NewService(settings.Storage.Directory)
	if err != nil {
		log.Fatalf("failed to initialise profiles: %v", err)
	}

	syncService := syncsvc.NewService(libraryService, remoteClient, sessionService, syncsvc.Options{
		Debounce:    time.Duration(settings.Sync.DebounceMS) * time.Millisecond,
		Interval:    time.Duration(settings.Sync.IntervalSeconds) * time.Second,
		MaxParallel: settings.Sync.MaxParallelPushes,
	})

	// Local edits wake the reconciler; sign-in pulls the remote snapshot first.
	libraryService.SetChangeHook(syncService.Notify)
	sessionService.SetSignInHook(func(userID string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if applied, err := syncService.MergeRemote(ctx); err != nil {
				log.Printf("[main] sign-in merge failed for %s: %v", userID, err)
			} else if applied > 0 {
				log.Printf("[main] sign-in merge applied %d remote records", applied)
			}
			syncService.Notify()
		}()
	})

	creditService := credits.NewService(remoteClient, sessionService, credits.Options{
		SignupGrant:     settings.Credits.SignupGrant,
		RefundOnFailure: settings.Credits.RefundOnFailure,
	})

	catalogService := catalog.NewService(settings.Catalog.TMDBAPIKey, settings.Catalog.Language)

	generator := recommend.NewGeminiGenerator(settings.AI.APIKey, settings.AI.Model, settings.AI.BaseURL)
	recommendService := recommend.NewService(libraryService, catalogService, generator, recommend.Options{
		Target:      settings.Recommendations.Target,
		MaxRounds:   settings.Recommendations.MaxRounds,
		OverRequest: settings.Recommendations.OverRequest,
	})

	prefsService, err := prefs.NewService(settings.Storage.Directory)
	if err != nil {
		log.Fatalf("failed to initialise prefs: %v", err)
	}

	r := utils.NewRouter()

	// PIN getter so a settings change takes effect without a restart
	getPIN := func() string {
		s, err := cfgManager.Load()
		if err != nil {
			return settings.Server.PIN
		}
		return s.Server.PIN
	}

	api.Register(
		r,
		handlers.NewMoviesHandler(libraryService),
		handlers.NewCatalogHandler(catalogService),
		handlers.NewRecommendationsHandler(libraryService, creditService, recommendService),
		handlers.NewCreditsHandler(creditService),
		handlers.NewSyncHandler(syncService),
		handlers.NewSessionHandler(sessionService),
		handlers.NewPrefsHandler(prefsService),
		handlers.NewSettingsHandler(cfgManager),
		getPIN,
	)

	// Background reconciler and remote change watcher
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if err := syncService.Start(rootCtx); err != nil {
		log.Fatalf("failed to start sync service: %v", err)
	}

	if settings.Remote.BaseURL != "" {
		pollInterval := time.Duration(settings.Remote.PollIntervalSeconds) * time.Second
		go watchRemote(rootCtx, remoteClient, sessionService, syncService, pollInterval)
	}

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	rootCancel()
	if err := syncService.Stop(shutdownCtx); err != nil {
		log.Printf("Sync service shutdown error: %v", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}

// watchRemote follows the remote store for the signed-in profile and applies
// incoming snapshots. It restarts the poll when the active profile changes.
func watchRemote(ctx context.Context, client *remote.Client, sessions *session.Service, reconciler *syncsvc.Service, interval time.Duration) {
	var (
		watched string
		cancel  context.CancelFunc
	)
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current := sessions.CurrentUserID()
		if current == watched {
			continue
		}
		if cancel != nil {
			cancel()
			cancel = nil
		}
		watched = current
		if current == "" {
			continue
		}

		watchCtx, watchCancel := context.WithCancel(ctx)
		cancel = watchCancel
		updates := client.WatchRecords(watchCtx, current, interval)

		go func(userID string) {
			for records := range updates {
				applied, err := reconciler.ApplySnapshot(records)
				if err != nil {
					log.Printf("[main] applying remote snapshot for %s failed: %v", userID, err)
					continue
				}
				if applied > 0 {
					log.Printf("[main] applied %d remote changes for %s", applied, userID)
				}
			}
		}(current)
	}
}
