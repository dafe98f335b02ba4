// Package config captures the environment-derived configuration of a build
// session: cache budgets, the workspace MAC seed, and logging verbosity.
// Grounded on the teacher's internal/env package, which resolves a single
// DISTRIROOT variable with a sensible default; here the same
// os.Getenv-with-default idiom is generalized to the full env-var surface
// contracted in spec.md §6.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Cache holds the size/count/age eviction budget for one cache tier.
type Cache struct {
	MaxSize    int64 // bytes
	MaxEntries int
	MaxAge     time.Duration
}

// Config is the fully resolved, process-wide configuration for a build
// session.
type Config struct {
	TargetCache Cache
	ActionCache Cache

	WorkspaceKey string
	Verbose      bool
	Workers      int
}

const day = 24 * time.Hour

// Load resolves Config from the environment, applying the spec-mandated
// defaults (§4.4): targets - 10 GiB / 10,000 entries / 30 days; actions - 1
// GiB / 50,000 entries / 30 days.
func Load() Config {
	return Config{
		TargetCache: Cache{
			MaxSize:    envInt64("BUILDER_CACHE_MAX_SIZE", 10*1024*1024*1024),
			MaxEntries: envInt("BUILDER_CACHE_MAX_ENTRIES", 10_000),
			MaxAge:     envDays("BUILDER_CACHE_MAX_AGE_DAYS", 30),
		},
		ActionCache: Cache{
			MaxSize:    envInt64("BUILDER_ACTION_CACHE_MAX_SIZE", 1*1024*1024*1024),
			MaxEntries: envInt("BUILDER_ACTION_CACHE_MAX_ENTRIES", 50_000),
			MaxAge:     envDays("BUILDER_ACTION_CACHE_MAX_AGE_DAYS", 30),
		},
		WorkspaceKey: envWorkspaceKey(),
		Verbose:      os.Getenv("BUILDER_VERBOSE") != "",
		Workers:      runtime.NumCPU(),
	}
}

func envWorkspaceKey() string {
	if key := os.Getenv("BUILDER_WORKSPACE_KEY"); key != "" {
		return key
	}
	// Fall back to a stable workspace-path-derived secret so repeated
	// invocations in the same workspace agree on a key even when the env
	// var is unset (spec §4.2: "process env or stable workspace path").
	wd, err := os.Getwd()
	if err != nil {
		return "builder-default-workspace-key"
	}
	return "builder-workspace:" + wd
}

func envInt64(name string, def int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDays(name string, def int) time.Duration {
	return time.Duration(envInt(name, def)) * day
}
