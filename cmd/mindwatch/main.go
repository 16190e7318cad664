package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ayusman/mindwatch/internal/app"
	"github.com/ayusman/mindwatch/internal/config"
	"github.com/ayusman/mindwatch/internal/fsutil"
	"github.com/ayusman/mindwatch/internal/metrics"
	"github.com/ayusman/mindwatch/internal/server"
	"github.com/ayusman/mindwatch/internal/store"
)

const cleanupInterval = time.Hour

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  mindwatch [-config file.json] [-listen addr]       serve the web API
  mindwatch analyze [-out file] [-stride k] [-conf t] <file>
                                                      analyze one image or video
`)
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "analyze" {
		os.Exit(runAnalyze(os.Args[2:]))
	}

	fs := flag.NewFlagSet("mindwatch", flag.ExitOnError)
	fs.Usage = usage
	configPath := fs.String("config", "", "JSON config file")
	listen := fs.String("listen", "", "Listen address (overrides config)")
	fs.Parse(os.Args[1:])

	cfg := loadConfig(*configPath)
	if *listen != "" {
		cfg.Listen = *listen
	}
	serve(cfg)
}

func loadConfig(path string) *config.Config {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return cfg
}

func serve(cfg *config.Config) {
	fmt.Println("mindwatch - classroom engagement analysis")
	log.Printf("[main] %s", cfg)

	if err := fsutil.EnsureDirs(cfg.DataDir, cfg.UploadDir(), cfg.OutputDir()); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	m := metrics.New()
	application := app.New(app.Config{Settings: cfg, Store: st, Metrics: m})
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go cleanupLoop(ctx, application)

	webDir := cfg.WebDir
	if webDir == "" {
		webDir = findWebDir(cfg.DataDir)
	}
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		StaticDir:      webDir,
		App:            application,
		UploadDir:      cfg.UploadDir(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Metrics:        m,
	})

	fmt.Printf("Starting server on %s\n", cfg.Listen)
	if err := srv.Run(ctx, cfg.Listen); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Printf("[main] graceful shutdown complete")
}

// cleanupLoop applies the retention period at startup and then hourly.
func cleanupLoop(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		if n, err := a.Cleanup(time.Now()); err != nil {
			log.Printf("[main] cleanup: %v", err)
		} else if n > 0 {
			log.Printf("[main] cleanup removed %d expired runs", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runAnalyze(args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	fs.Usage = usage
	configPath := fs.String("config", "", "JSON config file")
	out := fs.String("out", "", "Write the annotated image or video here")
	stride := fs.Int("stride", 0, "Video sampling stride (overrides config)")
	conf := fs.Float64("conf", -1, "Confidence threshold (overrides config)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
		return 2
	}
	path := fs.Arg(0)

	cfg := loadConfig(*configPath)
	if *conf >= 0 {
		cfg.ConfidenceThreshold = *conf
	}
	if *stride > 0 {
		cfg.SamplingStride = *stride
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid options: %v", err)
		return 2
	}

	if *out != "" {
		if err := fsutil.EnsureDirs(filepath.Dir(*out)); err != nil {
			log.Printf("%v", err)
			return 1
		}
	}

	application := app.New(app.Config{Settings: cfg})
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := application.Analyze(ctx, path, *out, cfg.SamplingStride)
	if err != nil {
		log.Printf("Analysis failed: %v", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Printf("Failed to encode result: %v", err)
		return 1
	}
	return 0
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	for _, p := range []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if absPath, err := filepath.Abs(p); err == nil {
				return absPath
			}
			return p
		}
	}
	return ""
}
