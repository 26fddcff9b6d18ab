// Package mirror decides, per discovered file, whether a network transfer
// is needed and executes transfers concurrently with bounded parallelism.
// The local file's modification time doubles as the persisted "last known
// remote state" marker; there is no separate manifest or database.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"websync/session"
)

// DefaultWorkers bounds how many transfers are in flight per sync pass.
const DefaultWorkers = 10

// State classifies the outcome of syncing one link.
type State int

const (
	// StateSkipped means the local copy is present and not stale.
	StateSkipped State = iota
	// StateTransferred means a file was written.
	StateTransferred
	// StateDeferred means a transient network failure; the file may be
	// retried on a later pass.
	StateDeferred
	// StateFailed means a hard per-file failure.
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateSkipped:
		return "skipped"
	case StateTransferred:
		return "transferred"
	case StateDeferred:
		return "deferred"
	default:
		return "failed"
	}
}

// Result is the outcome of the per-link sync procedure.
type Result struct {
	URL   string
	Path  string
	State State
	Err   error
}

// Syncer mirrors discovered links under Root. Per-link failures are local
// to that link and never cancel sibling work.
type Syncer struct {
	Session *session.Session

	// Root is the local mirror root directory.
	Root string

	// StripPrefix, when set, removes the crawl base from links before
	// computing the local path, so the mirrored tree is rooted without
	// the source host directory.
	StripPrefix string

	// UpdateExisting enables the HEAD staleness check for files that
	// already exist locally. When false, existing files are always
	// skipped without a network call.
	UpdateExisting bool

	// Compress stores files gzip-compressed, with a .gz extension.
	Compress bool

	// Workers bounds concurrent transfers. Defaults to DefaultWorkers.
	Workers int

	// OnTransfer, when set, is called for each file actually written.
	// Failures are caught and logged, never propagated.
	OnTransfer func(Result) error
}

// Sync runs the per-link procedure for every link across a bounded worker
// pool and waits for all submitted work. Completion order between links
// is unconstrained; results are returned in link order. Two links mapping
// to the same local path race unguarded: last writer wins.
func (s *Syncer) Sync(ctx context.Context, links []string) []Result {
	workers := s.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	sem := make(chan struct{}, workers)
	results := make([]Result, len(links))
	var wg sync.WaitGroup

	for i, link := range links {
		sem <- struct{}{} // Acquire semaphore
		wg.Add(1)
		go func(i int, link string) {
			defer wg.Done()
			defer func() { <-sem }() // Release semaphore

			results[i] = s.Copy(ctx, link)
		}(i, link)
	}

	wg.Wait()
	return results
}

// Copy applies the sync decision for one link: transfer when the local
// copy is absent, or when the remote's Last-Modified is strictly newer
// than the local modification time; skip otherwise. Equal timestamps
// never trigger a transfer.
func (s *Syncer) Copy(ctx context.Context, link string) Result {
	path, err := s.LocalPath(link)
	if err != nil {
		return Result{URL: link, State: StateFailed, Err: err}
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return s.transfer(ctx, link, path)
	}
	if err != nil {
		return Result{URL: link, Path: path, State: StateFailed,
			Err: fmt.Errorf("failed to stat %s: %w", path, err)}
	}

	if !s.UpdateExisting {
		return Result{URL: link, Path: path, State: StateSkipped}
	}

	resp, err := s.Session.Head(ctx, link)
	if err != nil {
		log.Printf("WARN: HEAD failed for %s, deferring: %v", link, err)
		return Result{URL: link, Path: path, State: StateDeferred, Err: err}
	}
	resp.Body.Close()

	remote, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	if err != nil {
		// Remote staleness is unknown; keep the local copy.
		log.Printf("WARN: No usable Last-Modified for %s, keeping local copy", link)
		return Result{URL: link, Path: path, State: StateSkipped}
	}

	if !remote.After(info.ModTime()) {
		return Result{URL: link, Path: path, State: StateSkipped}
	}
	return s.transfer(ctx, link, path)
}

// LocalPath maps a link to its destination under Root: the URL's host,
// dots replaced with underscores, becomes the top-level directory and the
// path segments nest beneath it. With StripPrefix set, links carrying the
// crawl base as a literal prefix are rooted directly under Root instead;
// links that resolved through a subdirectory to a different base fall
// back to the host+path mapping.
func (s *Syncer) LocalPath(link string) (string, error) {
	path, err := s.mapPath(link)
	if err != nil {
		return "", err
	}
	if s.Compress && !strings.HasSuffix(path, ".gz") {
		path += ".gz"
	}
	return path, nil
}

func (s *Syncer) mapPath(link string) (string, error) {
	if s.StripPrefix != "" {
		if rel, ok := strings.CutPrefix(link, s.StripPrefix); ok {
			return filepath.Join(append([]string{s.Root}, strings.Split(rel, "/")...)...), nil
		}
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("failed to parse link %s: %w", link, err)
	}

	topdir := strings.ReplaceAll(u.Host, ".", "_")
	parts := append([]string{s.Root, topdir}, strings.Split(u.Path, "/")...)
	return filepath.Join(parts...), nil
}

// transfer performs a full GET-and-write of link to path, copying the
// server's Last-Modified time onto the local file.
func (s *Syncer) transfer(ctx context.Context, link, path string) Result {
	resp, err := s.Session.Get(ctx, link)
	if err != nil {
		log.Printf("WARN: GET failed for %s, deferring: %v", link, err)
		return Result{URL: link, Path: path, State: StateDeferred, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{URL: link, Path: path, State: StateFailed,
			Err: &StatusError{URL: link, StatusCode: resp.StatusCode}}
	}

	log.Printf("INFO: Downloading %s", link)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{URL: link, Path: path, State: StateFailed,
			Err: fmt.Errorf("failed to create directories for %s: %w", path, err)}
	}

	if err := s.writeBody(link, path, resp.Body); err != nil {
		return Result{URL: link, Path: path, State: StateFailed, Err: err}
	}

	if remote, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		if err := os.Chtimes(path, time.Now(), remote); err != nil {
			return Result{URL: link, Path: path, State: StateFailed,
				Err: fmt.Errorf("failed to set times on %s: %w", path, err)}
		}
	} else {
		log.Printf("WARN: No usable Last-Modified for %s, keeping write time", link)
	}

	res := Result{URL: link, Path: path, State: StateTransferred}
	s.notify(res)
	return res
}

// writeBody streams the response body to path, through gzip when the
// destination carries a .gz extension in compress mode.
func (s *Syncer) writeBody(link, path string, body io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if s.Compress && strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if _, err := io.Copy(w, body); err != nil {
		f.Close()
		// Drop the partial file so a later pass retries the transfer.
		os.Remove(path)
		return &DecodeError{URL: link, Err: err}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("failed to compress %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// notify reports a completed transfer to the optional callback.
func (s *Syncer) notify(res Result) {
	if s.OnTransfer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Transfer callback panicked for %s: %v", res.URL, r)
		}
	}()

	if err := s.OnTransfer(res); err != nil {
		log.Printf("ERROR: Transfer callback failed for %s: %v", res.URL, err)
	}
}
