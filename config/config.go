// Package config loads and validates websync's multi-site YAML
// configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"websync/discovery"
)

const (
	// DefaultDownloadLocation is used when a site omits download_location.
	DefaultDownloadLocation = "./"

	// DefaultRefreshInterval is the pause between continuous-mode passes
	// when a site omits refresh_interval.
	DefaultRefreshInterval = 10 * time.Minute
)

// Site describes one mirrored site.
type Site struct {
	URL              string   `yaml:"url"`
	DownloadLocation string   `yaml:"download_location"`
	RegexExclude     string   `yaml:"regex_exclude"`
	RegexInclude     string   `yaml:"regex_include"`
	Recursive        *bool    `yaml:"recursive"`
	NoParents        bool     `yaml:"no_parents"`
	UpdateExisting   *bool    `yaml:"update_existing"`
	Service          bool     `yaml:"service"`
	RefreshInterval  Duration `yaml:"refresh_interval"`
	Compress         bool     `yaml:"compress"`
	Repo             bool     `yaml:"repo"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
}

// Config maps site names to their configuration blocks.
type Config map[string]Site

// Load reads a YAML config file. Unknown keys are a configuration error,
// not silently accepted.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config file %s is empty", path)
		}
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	for name, site := range cfg {
		if err := site.Validate(); err != nil {
			return nil, fmt.Errorf("site %s: %w", name, err)
		}
	}

	return cfg, nil
}

// Validate checks the fields a site cannot run without, so a broken
// pattern fails at startup rather than mid-crawl.
func (s Site) Validate() error {
	if s.URL == "" {
		return errors.New("url is required")
	}
	if s.RegexExclude != "" {
		if _, err := discovery.CompilePattern(s.RegexExclude); err != nil {
			return fmt.Errorf("regex_exclude: %w", err)
		}
	}
	if s.RegexInclude != "" {
		if _, err := discovery.CompilePattern(s.RegexInclude); err != nil {
			return fmt.Errorf("regex_include: %w", err)
		}
	}
	return nil
}

// IsRecursive reports whether directory references should be followed.
// Defaults to true when unset.
func (s Site) IsRecursive() bool {
	return s.Recursive == nil || *s.Recursive
}

// ShouldUpdateExisting reports whether existing local files are checked
// for staleness. Defaults to true when unset; disabling it skips the HEAD
// round-trip for files that are immutable once created.
func (s Site) ShouldUpdateExisting() bool {
	return s.UpdateExisting == nil || *s.UpdateExisting
}

// Root returns the mirror root directory for this site.
func (s Site) Root() string {
	if s.DownloadLocation == "" {
		return DefaultDownloadLocation
	}
	return s.DownloadLocation
}

// Refresh returns the continuous-mode interval for this site.
func (s Site) Refresh() time.Duration {
	if s.RefreshInterval == 0 {
		return DefaultRefreshInterval
	}
	return time.Duration(s.RefreshInterval)
}

// Duration wraps time.Duration so intervals can be written as strings like
// "10m" in the config file.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}
