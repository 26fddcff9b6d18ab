// Package websync mirrors remote directory-style HTTP listings onto local
// storage, preserving directory structure and server-reported modification
// times, and re-syncing only files that are new or changed.
package websync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"websync/config"
	"websync/discovery"
	"websync/mirror"
	"websync/session"
)

// maxConcurrentSites bounds how many top-level site syncs run at once.
const maxConcurrentSites = 25

// PassFunc is invoked after each pass that ran the transfer phase.
type PassFunc func(name string, site config.Site, results []mirror.Result)

// Scrape runs one discovery+sync pass for a site: crawl the listing, then
// transfer whatever is missing or stale.
func Scrape(ctx context.Context, name string, site config.Site, sess *session.Session, afterPass PassFunc) ([]mirror.Result, error) {
	listing, err := discovery.NewListing(site.URL, site.RegexExclude, site.RegexInclude, site.IsRecursive())
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", name, err)
	}

	links, err := discovery.Discover(ctx, sess, listing)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", name, err)
	}
	log.Printf("INFO: [%s] Checking on %d files", name, len(links))

	results := newSyncer(site, listing, sess).Sync(ctx, links)
	logPass(name, results)

	if afterPass != nil {
		afterPass(name, site, results)
	}
	return results, nil
}

// RunSites launches every named site concurrently, bounded by a top-level
// semaphore; service sites run their continuous loop, the rest sync once.
// When a lock is supplied and another instance already holds it, RunSites
// exits silently and successfully. Per-site errors are logged, never
// propagated to siblings.
func RunSites(ctx context.Context, cfg config.Config, lk Lock, afterPass PassFunc) error {
	if lk != nil {
		held, err := lk.TryLock()
		if err != nil {
			return fmt.Errorf("failed to acquire instance lock: %w", err)
		}
		if !held {
			log.Printf("INFO: Another instance is already running, exiting")
			return nil
		}
		defer func() {
			if err := lk.Unlock(); err != nil {
				log.Printf("WARN: Failed to release instance lock: %v", err)
			}
		}()
	}

	sem := make(chan struct{}, maxConcurrentSites)
	var wg sync.WaitGroup

	for name, site := range cfg {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}: // Acquire semaphore
		}

		wg.Add(1)
		go func(name string, site config.Site) {
			defer wg.Done()
			defer func() { <-sem }() // Release semaphore

			sess := session.New(session.Config{
				Username: site.Username,
				Password: site.Password,
			})

			if site.Service {
				svc := &Service{Name: name, Site: site, Session: sess, AfterPass: afterPass}
				if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("ERROR: Service for site %s stopped: %v", name, err)
				}
				return
			}

			if _, err := Scrape(ctx, name, site, sess, afterPass); err != nil {
				log.Printf("ERROR: Scrape of site %s failed: %v", name, err)
			}
		}(name, site)
	}

	wg.Wait()
	return nil
}

// newSyncer builds the mirror syncer for one site.
func newSyncer(site config.Site, listing *discovery.Listing, sess *session.Session) *mirror.Syncer {
	s := &mirror.Syncer{
		Session:        sess,
		Root:           site.Root(),
		UpdateExisting: site.ShouldUpdateExisting(),
		Compress:       site.Compress,
	}
	if site.NoParents {
		s.StripPrefix = listing.Base.String()
	}
	return s
}

// logPass summarizes one transfer phase.
func logPass(name string, results []mirror.Result) {
	var transferred, skipped, deferred, failed int
	for _, res := range results {
		switch res.State {
		case mirror.StateTransferred:
			transferred++
		case mirror.StateSkipped:
			skipped++
		case mirror.StateDeferred:
			deferred++
		case mirror.StateFailed:
			failed++
			log.Printf("ERROR: [%s] Sync failed for %s: %v", name, res.URL, res.Err)
		}
	}
	log.Printf("INFO: [%s] Finished syncing: %d transferred, %d skipped, %d deferred, %d failed",
		name, transferred, skipped, deferred, failed)
}
