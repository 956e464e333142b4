package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.mamsync/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	Archive        Archive `toml:"archive"`
	Workers        Workers `toml:"workers"`
}

// Archive holds tunables for archive synchronization.
type Archive struct {
	// PageSize is the page size for catch-up, backfill and range queries.
	PageSize int `toml:"page_size"`
	// ChatPageMin is the minimum number of stored top-level messages a
	// conversation should have after it is opened; below it one extra
	// backward page is fetched.
	ChatPageMin int `toml:"chat_page_min"`
	// ResumePageCap limits how many forward pages a resume catch-up fetches.
	ResumePageCap int `toml:"resume_page_cap"`
	// GapPageCap limits how many range pages a single gap heal fetches.
	GapPageCap int `toml:"gap_page_cap"`
	// QueryTimeoutSec is how long a blocking archive round trip waits for
	// its response before giving up. Orphaned correlation entries older
	// than this are also swept.
	QueryTimeoutSec int `toml:"query_timeout_sec"`
}

// Workers holds worker pool sizing.
type Workers struct {
	// Count is the number of background workers running archive operations.
	Count int `toml:"count"`
	// Queue is the job queue depth; a full queue rejects new work.
	Queue int `toml:"queue"`
}

// Default returns a config populated with defaults matching an empty file.
func Default() *Config {
	return &Config{
		Archive: Archive{
			PageSize:        50,
			ChatPageMin:     30,
			ResumePageCap:   2,
			GapPageCap:      5,
			QueryTimeoutSec: 60,
		},
		Workers: Workers{
			Count: 4,
			Queue: 64,
		},
	}
}

// QueryTimeout returns the archive round-trip timeout as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Archive.QueryTimeoutSec) * time.Second
}

// Load reads config from the given path and fills unset fields with
// defaults. Returns defaults and an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return Default(), err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Archive.PageSize <= 0 {
		c.Archive.PageSize = def.Archive.PageSize
	}
	if c.Archive.ChatPageMin <= 0 {
		c.Archive.ChatPageMin = def.Archive.ChatPageMin
	}
	if c.Archive.ResumePageCap <= 0 {
		c.Archive.ResumePageCap = def.Archive.ResumePageCap
	}
	if c.Archive.GapPageCap <= 0 {
		c.Archive.GapPageCap = def.Archive.GapPageCap
	}
	if c.Archive.QueryTimeoutSec <= 0 {
		c.Archive.QueryTimeoutSec = def.Archive.QueryTimeoutSec
	}
	if c.Workers.Count <= 0 {
		c.Workers.Count = def.Workers.Count
	}
	if c.Workers.Queue <= 0 {
		c.Workers.Queue = def.Workers.Queue
	}
}
