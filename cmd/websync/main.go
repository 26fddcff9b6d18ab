package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"websync"
	"websync/config"
	"websync/mirror"
	"websync/session"
)

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	rawURL := flag.String("url", getEnv("WEBSYNC_URL", ""), "url to scrape (WEBSYNC_URL)")
	output := flag.String("output", getEnv("WEBSYNC_OUTPUT", "./"), "download location for --url mode (WEBSYNC_OUTPUT)")
	configPath := flag.String("config", getEnv("WEBSYNC_CONFIG", ""), "path to a multi-site YAML config (WEBSYNC_CONFIG)")
	flag.Parse()

	if *rawURL == "" && *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: requires either --url or --config")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		runConfig(ctx, *configPath)
		return
	}

	site := config.Site{URL: *rawURL, DownloadLocation: *output}
	if err := site.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if _, err := websync.Scrape(ctx, "cli", site, session.New(session.Config{}), nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runConfig syncs every site in the config file, with the singleton lock
// engaged when any site runs in service mode.
func runConfig(ctx context.Context, path string) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Printf("INFO: Loaded %d sites from %s", len(cfg), path)

	var lk websync.Lock
	if anyService(cfg) {
		names := make([]string, 0, len(cfg))
		for name := range cfg {
			names = append(names, name)
		}
		lk = websync.NewFileLock(names)
	}

	if err := websync.RunSites(ctx, cfg, lk, commitPass); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// anyService reports whether any site runs in continuous mode.
func anyService(cfg config.Config) bool {
	for _, site := range cfg {
		if site.Service {
			return true
		}
	}
	return false
}

// commitPass auto-commits the mirror root after a pass that wrote files,
// for sites configured with repo: true. Failures are logged only; the
// mirror itself already succeeded.
func commitPass(name string, site config.Site, results []mirror.Result) {
	if !site.Repo {
		return
	}

	transferred := 0
	for _, res := range results {
		if res.State == mirror.StateTransferred {
			transferred++
		}
	}
	if transferred == 0 {
		return
	}

	msg := fmt.Sprintf("Auto-commit %s", time.Now().UTC().Format(time.RFC3339))
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", msg}} {
		if err := runGit(site.Root(), args); err != nil {
			log.Printf("ERROR: git %s failed for site %s: %v", args[0], name, err)
			return
		}
	}
	log.Printf("INFO: [%s] Committed %d new files", name, transferred)
}

// runGit runs one git command in dir with a hard timeout.
func runGit(dir string, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}
