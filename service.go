package websync

import (
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/google/uuid"

	"websync/config"
	"websync/discovery"
	"websync/mirror"
	"websync/session"
)

// Service repeats discovery+sync for one site on a fixed interval,
// re-running the transfer phase only when the discovered link list has
// changed since the previous pass. That avoids HEAD-request storms
// against a slowly changing remote tree, at the cost of missing content
// changes that leave the listing intact.
type Service struct {
	Name      string
	Site      config.Site
	Session   *session.Session
	AfterPass PassFunc

	// Link list from the previous pass, compared by exact sequence
	// equality.
	prev []string
}

// Run loops until the context is cancelled. Passes are strictly ordered:
// one discovery+sync pass completes before the next begins.
func (s *Service) Run(ctx context.Context) error {
	listing, err := discovery.NewListing(s.Site.URL, s.Site.RegexExclude, s.Site.RegexInclude, s.Site.IsRecursive())
	if err != nil {
		return fmt.Errorf("site %s: %w", s.Name, err)
	}
	syncer := newSyncer(s.Site, listing, s.Session)

	log.Printf("INFO: [%s] Service starting, refresh interval %v", s.Name, s.Site.Refresh())
	ticker := time.NewTicker(s.Site.Refresh())
	defer ticker.Stop()

	for {
		s.pass(ctx, listing, syncer)

		select {
		case <-ctx.Done():
			log.Printf("INFO: [%s] Service stopping", s.Name)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pass runs one discovery pass, syncing only when the link list changed.
func (s *Service) pass(ctx context.Context, listing *discovery.Listing, syncer *mirror.Syncer) {
	pass := uuid.New()

	links, err := discovery.Discover(ctx, s.Session, listing)
	if err != nil {
		log.Printf("ERROR: [%s] Discovery failed in pass %s: %v", s.Name, pass, err)
		return
	}

	if slices.Equal(links, s.prev) {
		log.Printf("INFO: [%s] Pass %s found no listing changes (%d files)", s.Name, pass, len(links))
		return
	}
	s.prev = links

	log.Printf("INFO: [%s] Pass %s checking on %d files", s.Name, pass, len(links))
	results := syncer.Sync(ctx, links)
	logPass(s.Name, results)

	if s.AfterPass != nil {
		s.AfterPass(s.Name, s.Site, results)
	}
}
