// Package main provides the entry point for the session gateway.
// The gateway probes a session-identity endpoint, keeps retrying through
// transient backend failures, and serves the protected application only once
// an authenticated identity is confirmed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/leok974/ApplyLens-sub016/internal/api"
	"github.com/leok974/ApplyLens-sub016/internal/buildinfo"
	"github.com/leok974/ApplyLens-sub016/internal/config"
	"github.com/leok974/ApplyLens-sub016/internal/logging"
	"github.com/leok974/ApplyLens-sub016/internal/misc"
	"github.com/leok974/ApplyLens-sub016/internal/tui"
	"github.com/leok974/ApplyLens-sub016/internal/util"
	"github.com/leok974/ApplyLens-sub016/internal/watcher"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("Session Gateway Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	var tuiMode bool
	flag.StringVar(&configPath, "config", "config.yaml", "Configure File Path")
	flag.BoolVar(&tuiMode, "tui", false, "Start with terminal status UI")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	// Seed a fresh config from the bundled example on first run.
	if _, errStat := os.Stat(configPath); errors.Is(errStat, os.ErrNotExist) {
		examplePath := filepath.Join(wd, "config.example.yaml")
		if errCopy := misc.CopyConfigTemplate(examplePath, configPath); errCopy != nil {
			log.Errorf("no config file at %s and copying the example failed: %v", configPath, errCopy)
			return
		}
		log.Infof("created %s from config.example.yaml, edit it for your deployment", configPath)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load configuration: %v", err)
		return
	}

	util.SetLogLevel(cfg)
	if errLogOutput := logging.ConfigureLogOutput(cfg); errLogOutput != nil {
		log.Errorf("failed to configure log output: %v", errLogOutput)
		return
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		log.Errorf("failed to build gateway server: %v", err)
		return
	}

	fileWatcher, err := watcher.NewWatcher(configPath, server.ReloadConfig)
	if err != nil {
		log.Errorf("failed to create config watcher: %v", err)
		return
	}
	if data, errRead := os.ReadFile(configPath); errRead == nil {
		fileWatcher.SetConfigHash(watcher.HashConfig(data))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errWatch := fileWatcher.Start(ctx); errWatch != nil {
		log.Errorf("failed to start config watcher: %v", errWatch)
		return
	}

	if tuiMode {
		defer func() { _ = fileWatcher.Stop() }()
		runWithTUI(ctx, stop, server, cfg.Port)
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return fileWatcher.Stop()
	})
	if errRun := group.Wait(); errRun != nil {
		log.Errorf("gateway server failed: %v", errRun)
	}
}

// runWithTUI serves the gateway in the background and puts the status TUI on
// the terminal. Logs are silenced while the TUI owns the screen.
func runWithTUI(ctx context.Context, stop context.CancelFunc, server *api.Server, port int) {
	origStdout := os.Stdout
	origLogOutput := log.StandardLogger().Out
	log.SetOutput(io.Discard)
	restoreIO := func() {
		log.SetOutput(origLogOutput)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx)
	})

	client := tui.NewClient(port)
	ready := false
	backoff := 100 * time.Millisecond
	for i := 0; i < 30; i++ {
		if _, errState := client.FetchState(); errState == nil {
			ready = true
			break
		}
		time.Sleep(backoff)
		if backoff < time.Second {
			backoff = time.Duration(float64(backoff) * 1.5)
		}
	}

	if !ready {
		restoreIO()
		stop()
		_ = group.Wait()
		fmt.Fprintf(os.Stderr, "TUI error: embedded gateway is not ready\n")
		return
	}

	if errRun := tui.Run(port, origStdout); errRun != nil {
		restoreIO()
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", errRun)
	} else {
		restoreIO()
	}

	stop()
	if errWait := group.Wait(); errWait != nil {
		log.Errorf("gateway server failed: %v", errWait)
	}
}
