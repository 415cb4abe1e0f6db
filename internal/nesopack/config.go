package nesopack

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds key=value settings from /etc/nesopack.conf plus NESOPACK_*
// environment overrides.
type Config struct {
	Values map[string]string
}

// Load the config file and apply defaults.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge NESOPACK_* env overrides
	mergeEnvOverrides(cfg)

	applyDefaults(cfg)
	return cfg, nil
}

// mergeEnvOverrides lets any NESOPACK_* environment variable override the
// corresponding key from the config file.
func mergeEnvOverrides(cfg *Config) {
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "NESOPACK_") {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		cfg.Values[parts[0]] = parts[1]
	}
}

func applyDefaults(cfg *Config) {
	set := func(key, def string) {
		if cfg.Values[key] == "" {
			cfg.Values[key] = def
		}
	}

	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}

	set("NESOPACK_PATH", "")
	set("NESOPACK_CACHE", filepath.Join(home, ".cache", "nesopack"))
	set("NESOPACK_PLATFORM", "linux")
	// Compiler spec assumed when evaluating %compiler conditions without an
	// explicit %... on the command line.
	set("NESOPACK_COMPILER", "gcc@12.2.0")
	// Default provider for the virtual sycl package.
	set("NESOPACK_SYCL", "hipsycl")

	cacheDir := cfg.Values["NESOPACK_CACHE"]
	set("NESOPACK_SOURCES", filepath.Join(cacheDir, "sources"))
	set("NESOPACK_WORK", filepath.Join(cacheDir, "work"))

	if cfg.Values["NESOPACK_DEBUG"] == "1" {
		Debug = true
	}
}

// applyConfigToGlobals assigns the resolved directories to package globals.
func applyConfigToGlobals(cfg *Config) {
	repoPaths = cfg.Values["NESOPACK_PATH"]
	CacheDir = cfg.Values["NESOPACK_CACHE"]
	SourcesDir = cfg.Values["NESOPACK_SOURCES"]
	WorkDir = cfg.Values["NESOPACK_WORK"]
}

// requireMirrorConfig validates the settings needed for 'mirror' subcommands.
func requireMirrorConfig(cfg *Config) error {
	missing := []string{}
	for _, key := range []string{"MIRROR_BUCKET", "MIRROR_ENDPOINT", "MIRROR_ACCESS_KEY_ID", "MIRROR_SECRET_ACCESS_KEY"} {
		if cfg.Values[key] == "" && cfg.Values["NESOPACK_"+key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("mirror configuration incomplete, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// mirrorSetting reads a mirror key, accepting both the bare and the
// NESOPACK_-prefixed spelling.
func mirrorSetting(cfg *Config, key string) string {
	if v := cfg.Values["NESOPACK_"+key]; v != "" {
		return v
	}
	return cfg.Values[key]
}
