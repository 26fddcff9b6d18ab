// Package discovery turns a remote directory-style HTML listing into a
// flat, order-preserving list of downloadable file URLs by recursively
// following directory references.
package discovery

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Getter fetches listing pages. *session.Session satisfies it.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// Listing is one directory page in a remote file listing. A child listing
// is created for every directory reference followed during a crawl and
// inherits the parent's filters unchanged, so filtering is consistent
// across the whole traversal.
type Listing struct {
	Base      *url.URL
	Exclude   *regexp.Regexp
	Include   *regexp.Regexp
	Recursive bool
}

// NewListing parses rawURL, normalized to a trailing slash so relative
// references resolve under the directory rather than beside it, and
// compiles the optional start-anchored filter patterns.
func NewListing(rawURL, exclude, include string, recursive bool) (*Listing, error) {
	if !strings.HasSuffix(rawURL, "/") {
		rawURL += "/"
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url %s: %w", rawURL, err)
	}

	l := &Listing{Base: base, Recursive: recursive}
	if exclude != "" {
		if l.Exclude, err = CompilePattern(exclude); err != nil {
			return nil, fmt.Errorf("regex_exclude: %w", err)
		}
	}
	if include != "" {
		if l.Include, err = CompilePattern(include); err != nil {
			return nil, fmt.Errorf("regex_include: %w", err)
		}
	}
	return l, nil
}

// CompilePattern compiles a filter pattern anchored at the start of the
// reference it is checked against.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")")
}

// Discover fetches the listing page and returns the absolute URL of every
// leaf file reachable from it, in document order, recursing depth-first
// into directory references. An unreachable or non-200 page contributes
// zero links rather than failing the crawl, so one dead subdirectory
// never aborts its siblings. There is no cycle detection and no depth
// limit: a listing that links back to an ancestor recurses until the
// stack gives out.
func Discover(ctx context.Context, client Getter, l *Listing) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := client.Get(ctx, l.Base.String())
	if err != nil {
		log.Printf("WARN: Listing fetch failed for %s: %v", l.Base, err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("WARN: Listing fetch for %s returned status %d", l.Base, resp.StatusCode)
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing %s: %w", l.Base, err)
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		ref := strings.TrimSpace(sel.AttrOr("href", ""))

		// Exclusion comes first: a matching reference is dropped before
		// any other classification, including from recursion.
		if l.Exclude != nil && l.Exclude.MatchString(ref) {
			return
		}
		if !localRef(ref) {
			return
		}

		if strings.HasSuffix(ref, "/") {
			if !l.Recursive {
				return
			}
			sub, err := Discover(ctx, client, l.child(ref))
			if err != nil {
				log.Printf("WARN: Skipping subdirectory %s under %s: %v", ref, l.Base, err)
				return
			}
			links = append(links, sub...)
			return
		}

		// Inclusion applies to leaf files only; directories are always
		// followed, subject to exclusion.
		if l.Include != nil && !l.Include.MatchString(ref) {
			return
		}
		links = append(links, l.resolve(ref))
	})

	return links, nil
}

// localRef reports whether a raw reference is part of the mirrored tree:
// only host-relative, path-relative references are. Site-absolute paths,
// query-only links, and anything carrying its own scheme are ignored.
func localRef(ref string) bool {
	return ref != "" &&
		!strings.HasPrefix(ref, "/") &&
		!strings.HasPrefix(ref, "?") &&
		!strings.HasPrefix(ref, "http")
}

// resolve makes ref absolute against the listing base.
func (l *Listing) resolve(ref string) string {
	rel, err := url.Parse(ref)
	if err != nil {
		return l.Base.String() + ref
	}
	return l.Base.ResolveReference(rel).String()
}

// child builds the listing for a directory reference, inheriting the
// parent's filters.
func (l *Listing) child(ref string) *Listing {
	base := l.Base
	if resolved, err := url.Parse(l.resolve(ref)); err == nil {
		base = resolved
	}
	return &Listing{
		Base:      base,
		Exclude:   l.Exclude,
		Include:   l.Include,
		Recursive: l.Recursive,
	}
}
