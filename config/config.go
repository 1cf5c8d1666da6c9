// Package config loads the cache's tunables (capacity, policy choice, backend paths,
// flusher interval, cost-weighting toggle) from a YAML file with environment-variable
// overrides, per SPEC_FULL.md §10.3.
//
// Grounded on memsys.MMSA's own config pattern (memsys/mmsa.go): construct the struct
// with hard-coded defaults, then call env() to let a handful of well-known environment
// variables override specific fields, in the same order of precedence MMSA documents
// ("environment overrides defaults and MMSA{...} hard-codings").
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/coralstore/bpcache/cmn"
)

// Cache is the top-level configuration struct, assembled from a YAML file plus
// environment overrides the same way aistore assembles cmn.Config.
type Cache struct {
	// Capacity is the maximum number of resident objects the policy array/lists hold.
	Capacity int `yaml:"capacity"`

	// Policy selects which replacement policy to construct: "lru", "clock", or "a2q".
	Policy string `yaml:"policy"`

	// Device names the backing storage device class, matching selector.Device.
	Device string `yaml:"device"`

	// PFCapacity bounds the A2Q pending-flush list; ignored by LRU/CLOCK.
	PFCapacity int `yaml:"pf_capacity"`

	// ArenaPath is the backing file or pmem device path; empty for the Volatile backend.
	ArenaPath string `yaml:"arena_path"`

	// BlockSize is the bitmap allocator's block size in bytes (spec.md §4.2).
	BlockSize int `yaml:"block_size"`

	// FlushIntervalMS is how often the background flusher ticks, in milliseconds.
	FlushIntervalMS int `yaml:"flush_interval_ms"`

	// MaxFlushPerSecond optionally throttles writeback issue rate; 0 disables throttling.
	MaxFlushPerSecond float64 `yaml:"max_flush_per_second"`

	// CostWeighted enables cost-weighted eviction reevaluation (§5 "single-threaded"
	// paragraph: "Cost weighted reevaluates every eviction candidate; default uses
	// strict policy ordering").
	CostWeighted bool `yaml:"cost_weighted"`

	// Concurrent selects the concurrent build profile (§5); false runs single-threaded
	// with the non-concurrent in_use_flag discipline.
	Concurrent bool `yaml:"concurrent"`
}

// Default returns the built-in defaults, mirroring the hard-coded field values an
// &MMSA{...} literal carries before env() runs.
func Default() Cache {
	return Cache{
		Capacity:          4096,
		Policy:            "lru",
		Device:            "volatile",
		PFCapacity:        256,
		BlockSize:         4096,
		FlushIntervalMS:   1, // spec.md §5: "wakes every ≈1 ms"
		MaxFlushPerSecond: 0,
		CostWeighted:      false,
		Concurrent:        true,
	}
}

// FlushInterval renders FlushIntervalMS as a time.Duration for flusher.New.
func (c Cache) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// Load reads path as YAML into Default()'s baseline, then applies environment overrides
// via Env(). An empty path skips the file read and applies only defaults plus Env().
func Load(path string) (Cache, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Cache{}, cmn.WrapIO(err, "config: reading %s", path)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Cache{}, cmn.WrapIO(err, "config: parsing %s", path)
		}
	}
	if err := c.Env(); err != nil {
		return Cache{}, err
	}
	return c, nil
}

// Env applies BPCACHE_* environment overrides in place, the same precedence MMSA.env()
// uses: a set environment variable always wins over whatever the YAML file (or the
// built-in default) supplied.
func (c *Cache) Env() error {
	if v := os.Getenv("BPCACHE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: cannot parse BPCACHE_CAPACITY %q", v)
		}
		c.Capacity = n
	}
	if v := os.Getenv("BPCACHE_POLICY"); v != "" {
		c.Policy = v
	}
	if v := os.Getenv("BPCACHE_DEVICE"); v != "" {
		c.Device = v
	}
	if v := os.Getenv("BPCACHE_FLUSH_INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: cannot parse BPCACHE_FLUSH_INTERVAL_MS %q", v)
		}
		c.FlushIntervalMS = n
	}
	if v := os.Getenv("BPCACHE_ARENA_PATH"); v != "" {
		c.ArenaPath = v
	}
	if v := os.Getenv("BPCACHE_COST_WEIGHTED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: cannot parse BPCACHE_COST_WEIGHTED %q", v)
		}
		c.CostWeighted = b
	}
	return nil
}

// Validate checks the fields every package below config actually asserts on
// construction, so a malformed config file fails fast with a clear message instead of
// tripping a cmn.Assert deep inside bitmap/policy construction.
func (c Cache) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("config: capacity must be positive, got %d", c.Capacity)
	}
	switch c.Policy {
	case "lru", "clock", "a2q":
	default:
		return fmt.Errorf("config: unknown policy %q (want lru, clock, or a2q)", c.Policy)
	}
	switch c.Device {
	case "volatile", "pmem", "file":
	default:
		return fmt.Errorf("config: unknown device %q (want volatile, pmem, or file)", c.Device)
	}
	if c.Policy == "a2q" && c.PFCapacity <= 0 {
		return fmt.Errorf("config: pf_capacity must be positive for the a2q policy, got %d", c.PFCapacity)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("config: block_size must be positive, got %d", c.BlockSize)
	}
	if c.FlushIntervalMS <= 0 {
		return fmt.Errorf("config: flush_interval_ms must be positive, got %d", c.FlushIntervalMS)
	}
	return nil
}
