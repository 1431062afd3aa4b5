// Command hubd is the home dashboard hub daemon. It polls the widgets,
// serves the dashboard API and bridges the voice assistant.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hearthlabs/homehub/internal/api"
	"github.com/hearthlabs/homehub/internal/assistant"
	"github.com/hearthlabs/homehub/internal/auth"
	"github.com/hearthlabs/homehub/internal/calendar"
	"github.com/hearthlabs/homehub/internal/config"
	"github.com/hearthlabs/homehub/internal/energy"
	"github.com/hearthlabs/homehub/internal/events"
	"github.com/hearthlabs/homehub/internal/google"
	"github.com/hearthlabs/homehub/internal/hub"
	"github.com/hearthlabs/homehub/internal/identity"
	"github.com/hearthlabs/homehub/internal/maintenance"
	"github.com/hearthlabs/homehub/internal/music"
	"github.com/hearthlabs/homehub/internal/nodered"
	"github.com/hearthlabs/homehub/internal/photos"
	"github.com/hearthlabs/homehub/internal/poller"
	"github.com/hearthlabs/homehub/internal/pollen"
	"github.com/hearthlabs/homehub/internal/timer"
	"github.com/hearthlabs/homehub/internal/weather"
	"github.com/hearthlabs/homehub/internal/zeroconf"
)

func main() {
	var (
		addr    = flag.String("addr", "", "HTTP listen address (default from config, :8080)")
		cfgDir  = flag.String("config-dir", "", "config directory (default: ~/.config/homehub)")
		cfgFile = flag.String("config", "", "TOML config file (default: <config-dir>/hub.toml)")
		webDir  = flag.String("web-dir", "", "directory with the built dashboard")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	// Configure logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Resolve config directory
	if *cfgDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("cannot determine home directory", "err", err)
			os.Exit(1)
		}
		*cfgDir = filepath.Join(home, ".config", "homehub")
	}
	if err := os.MkdirAll(*cfgDir, 0755); err != nil {
		slog.Error("cannot create config directory", "path", *cfgDir, "err", err)
		os.Exit(1)
	}
	if *cfgFile == "" {
		*cfgFile = filepath.Join(*cfgDir, "hub.toml")
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *webDir != "" {
		cfg.Server.WebDir = *webDir
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// State
	store := config.NewJSONStore(*cfgDir)
	bus := events.NewBus()
	info := identity.Describe(*cfgDir, time.Now())
	h, err := hub.New(store, bus, info)
	if err != nil {
		slog.Error("hub initialization failed", "err", err)
		os.Exit(1)
	}

	// Google and the widgets behind it
	gc := google.NewClient(cfg.Google, h)
	if !gc.Configured() {
		slog.Warn("google client id not set; calendar and photos picker are disabled")
	}
	cal := calendar.NewService(calendar.NewClient(gc, calendar.DefaultBaseURL, cfg.Google.CalendarID), gc, h, cfg.Google.CalendarDays)

	wx := weather.NewService(weather.NewClient(&http.Client{Timeout: 15 * time.Second}, cfg.Weather), h, *cfgDir)
	wx.LoadCache()

	bridge := nodered.NewClient(cfg.NodeRED)
	en := energy.NewService(bridge, h)
	mu := music.NewService(bridge, h)
	po := pollen.NewService(bridge, h)

	pollers := poller.NewGroup()
	pollers.Add(poller.New("calendar", config.Seconds(cfg.Polling.CalendarSeconds), cal.Fetch))
	pollers.Add(poller.New("weather", config.Seconds(cfg.Polling.WeatherSeconds), wx.Fetch))
	pollers.Add(poller.New("energy", config.Seconds(cfg.Polling.EnergySeconds), en.Fetch))
	pollers.Add(poller.New("music", config.Seconds(cfg.Polling.MusicSeconds), mu.Fetch))
	pollers.Add(poller.New("pollen", config.Seconds(cfg.Polling.PollenSeconds), po.Fetch))
	mu.SetRefresher(func() { _ = pollers.Refresh("music") })

	// Photos
	photoStore, err := photos.Open(*cfgDir)
	if err != nil {
		slog.Error("photo store initialization failed", "err", err)
		os.Exit(1)
	}
	defer photoStore.Close()
	var picker *photos.PickerClient
	if gc.Configured() {
		picker = photos.NewPickerClient(gc, photos.DefaultPickerURL)
	}
	library := photos.NewLibrary(photoStore, picker, h, cfg.Photos)
	if err := library.Load(ctx); err != nil {
		slog.Error("loading photos failed", "err", err)
	}

	// Voice assistant, with the dashboard browser as microphone and speaker
	relay := assistant.NewRelay(h)
	voice := assistant.NewBridge(relay, assistant.NewGeminiDialer(cfg.Gemini), h, cfg.Gemini)

	kitchenTimer := timer.New(h)

	// Auth service
	authSvc, err := auth.NewService(*cfgDir)
	if err != nil {
		slog.Error("auth service initialization failed", "err", err)
		os.Exit(1)
	}
	defer authSvc.Close()

	// Background goroutines
	go pollers.Run(ctx)
	go library.Run(ctx)

	// Maintenance goroutines (online check, nightly photo backup)
	maint := maintenance.New(filepath.Join(*cfgDir, "backups"), library, cfg.Photos.BackupKeepDays, func(online bool) {
		h.SetOnline(online)
		if online {
			_ = pollers.Refresh("weather")
		}
	})
	go maint.Start(ctx)

	// Zeroconf mDNS registration
	if cfg.Server.MDNS {
		port, err := zeroconf.PortFromAddr(cfg.Server.Addr)
		if err != nil {
			slog.Warn("zeroconf disabled", "err", err)
		} else {
			zc := zeroconf.New(identity.ServiceName(info.Hostname), port, info)
			go func() {
				if err := zc.Start(ctx); err != nil {
					slog.Warn("zeroconf failed", "err", err)
				}
			}()
		}
	}

	// HTTP server
	router := api.NewRouter(api.Deps{
		Hub:       h,
		Bus:       bus,
		Auth:      authSvc,
		Pollers:   pollers,
		Calendar:  cal,
		Music:     mu,
		Photos:    library,
		Assistant: voice,
		Relay:     relay,
		Timer:     kitchenTimer,
		Google:    gc,
	})
	if cfg.Server.WebDir != "" {
		router.With(authSvc.Middleware).Handle("/*", http.FileServer(http.Dir(cfg.Server.WebDir)))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("hub listening", "addr", cfg.Server.Addr, "config", *cfgDir, "version", info.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	voice.Stop(assistant.NormalReason)
	kitchenTimer.Close()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	// Flush pending settings writes
	if err := h.Flush(); err != nil {
		slog.Warn("failed to flush settings", "err", err)
	}

	// End SSE streams so Shutdown does not wait on them
	bus.Close()

	// Graceful HTTP shutdown
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}
