package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"websync/session"
)

// testSession returns a session tuned for fast test runs.
func testSession() *session.Session {
	return session.New(session.Config{
		Timeout:        5 * time.Second,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
	})
}

// newListing is a test helper that fails on construction errors.
func newListing(t *testing.T, rawURL, exclude, include string, recursive bool) *Listing {
	t.Helper()
	l, err := NewListing(rawURL, exclude, include, recursive)
	require.NoError(t, err)
	return l
}

// TestNewListing_TrailingSlash verifies the base URL is normalized
func TestNewListing_TrailingSlash(t *testing.T) {
	l := newListing(t, "http://example.com/data", "", "", true)
	assert.Equal(t, "http://example.com/data/", l.Base.String())

	l = newListing(t, "http://example.com/data/", "", "", true)
	assert.Equal(t, "http://example.com/data/", l.Base.String())
}

// TestNewListing_BadPattern verifies pattern errors surface at creation
func TestNewListing_BadPattern(t *testing.T) {
	_, err := NewListing("http://example.com/", "[unclosed", "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regex_exclude")

	_, err = NewListing("http://example.com/", "", "[unclosed", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regex_include")
}

// TestCompilePattern_Anchored verifies patterns match at the start only
func TestCompilePattern_Anchored(t *testing.T) {
	re, err := CompilePattern("214")
	require.NoError(t, err)

	assert.True(t, re.MatchString("214file.DAT"))
	assert.False(t, re.MatchString("file214.DAT"), "should not match mid-string")
}

// TestDiscover_Recursive verifies depth-first discovery with order
// preserved: leaves in anchor order, subdirectories expanded in place
func TestDiscover_Recursive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="file1.DAT">file1.DAT</a><a href="sub/">sub/</a>`)
	})
	mux.HandleFunc("/sub/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="file2.DAT">file2.DAT</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	links, err := Discover(context.Background(), testSession(), newListing(t, srv.URL, "", "", true))
	require.NoError(t, err)

	assert.Equal(t, []string{srv.URL + "/file1.DAT", srv.URL + "/sub/file2.DAT"}, links)
}

// TestDiscover_Exclude verifies excluded leaves never appear in results
func TestDiscover_Exclude(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="file1.DAT">file1.DAT</a><a href="sub/">sub/</a>`)
	})
	mux.HandleFunc("/sub/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="file2.DAT">file2.DAT</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	links, err := Discover(context.Background(), testSession(), newListing(t, srv.URL, "(.*file1.*)", "", true))
	require.NoError(t, err)

	assert.Equal(t, []string{srv.URL + "/sub/file2.DAT"}, links)
}

// TestDiscover_ExcludeDirectory verifies an excluded directory's subtree
// is never visited
func TestDiscover_ExcludeDirectory(t *testing.T) {
	var subHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="file1.DAT">file1.DAT</a><a href="sub/">sub/</a>`)
	})
	mux.HandleFunc("/sub/", func(w http.ResponseWriter, r *http.Request) {
		subHits.Add(1)
		fmt.Fprint(w, `<a href="file2.DAT">file2.DAT</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	links, err := Discover(context.Background(), testSession(), newListing(t, srv.URL, "sub", "", true))
	require.NoError(t, err)

	assert.Equal(t, []string{srv.URL + "/file1.DAT"}, links)
	assert.Zero(t, subHits.Load(), "excluded subtree should never be fetched")
}

// TestDiscover_Include verifies inclusion filters leaves but never
// directories
func TestDiscover_Include(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="18060818EP0214.DAT">a</a>`+
			`<a href="1806072011EP02.AMSR2.INTENSITY_ETA.DAT">b</a>`+
			`<a href="sub/">sub/</a>`)
	})
	mux.HandleFunc("/sub/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="01.AMSR2.DAT">c</a><a href="plain.DAT">d</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	links, err := Discover(context.Background(), testSession(), newListing(t, srv.URL, "", "(.*AMSR2.*)", true))
	require.NoError(t, err)

	assert.Equal(t, []string{
		srv.URL + "/1806072011EP02.AMSR2.INTENSITY_ETA.DAT",
		srv.URL + "/sub/01.AMSR2.DAT",
	}, links, "directories are followed regardless of the include pattern")
}

// TestDiscover_IgnoresNonLocalRefs verifies site-absolute, query-only,
// scheme-carrying, and empty references are neither followed nor returned
func TestDiscover_IgnoresNonLocalRefs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="/absolute/file.DAT">abs</a>`+
			`<a href="?C=M;O=A">sort</a>`+
			`<a href="http://elsewhere.invalid/file.DAT">ext</a>`+
			`<a href="https://elsewhere.invalid/dir/">extdir</a>`+
			`<a href="">empty</a>`+
			`<a href="keep.DAT">keep</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	links, err := Discover(context.Background(), testSession(), newListing(t, srv.URL, "", "", true))
	require.NoError(t, err)

	assert.Equal(t, []string{srv.URL + "/keep.DAT"}, links)
}

// TestDiscover_HTMLAnchorIsLeaf verifies .html references are treated as
// downloadable files, not directories to recurse into
func TestDiscover_HTMLAnchorIsLeaf(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="index.html">index.html</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	links, err := Discover(context.Background(), testSession(), newListing(t, srv.URL, "", "", true))
	require.NoError(t, err)

	assert.Equal(t, []string{srv.URL + "/index.html"}, links)
}

// TestDiscover_NotFoundSubtree verifies a 404 subtree contributes zero
// links while siblings are still discovered
func TestDiscover_NotFoundSubtree(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="gone/">gone/</a><a href="ok/">ok/</a><a href="top.DAT">top</a>`)
	})
	mux.HandleFunc("/gone/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/ok/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="deep.DAT">deep</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	links, err := Discover(context.Background(), testSession(), newListing(t, srv.URL, "", "", true))
	require.NoError(t, err)

	assert.Equal(t, []string{srv.URL + "/ok/deep.DAT", srv.URL + "/top.DAT"}, links)
}

// TestDiscover_NonRecursive verifies directory references are ignored
// when recursion is off
func TestDiscover_NonRecursive(t *testing.T) {
	var subHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="file1.DAT">file1.DAT</a><a href="sub/">sub/</a>`)
	})
	mux.HandleFunc("/sub/", func(w http.ResponseWriter, r *http.Request) {
		subHits.Add(1)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	links, err := Discover(context.Background(), testSession(), newListing(t, srv.URL, "", "", false))
	require.NoError(t, err)

	assert.Equal(t, []string{srv.URL + "/file1.DAT"}, links)
	assert.Zero(t, subHits.Load())
}

// TestDiscover_UnreachableRoot verifies a dead server yields an empty
// result without an error
func TestDiscover_UnreachableRoot(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // Connection refused from here on

	links, err := Discover(context.Background(), testSession(), newListing(t, srv.URL, "", "", true))
	require.NoError(t, err)
	assert.Empty(t, links)
}

// TestDiscover_CancelledContext verifies cancellation surfaces instead of
// being swallowed as an empty subtree
func TestDiscover_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Discover(ctx, testSession(), newListing(t, "http://none.invalid/", "", "", true))
	assert.ErrorIs(t, err, context.Canceled)
}
