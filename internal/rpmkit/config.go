package rpmkit

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the merged key=value settings.
type Config struct {
	Values map[string]string
}

// loadConfig reads path (a missing file is fine) and layers the RPMKIT_*
// and R2_* environment over it.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, val, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			cfg.Values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(val), `"'`)
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	mergeEnvOverrides(cfg)
	return cfg, nil
}

func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "RPMKIT_") && !strings.HasPrefix(env, "R2_") {
			continue
		}
		if key, val, ok := strings.Cut(env, "="); ok {
			cfg.Values[key] = val
		}
	}
}

// configPath is /etc/rpmkit.conf, or the copy under an alternate root.
func configPath() string {
	if root := os.Getenv("RPMKIT_ROOT"); root != "" && root != "/" {
		return filepath.Join(root, "etc", "rpmkit", "rpmkit.conf")
	}
	return ConfigFile
}

func valueOr(cfg *Config, key, def string) string {
	if v := cfg.Values[key]; v != "" {
		return v
	}
	return def
}

func enabled(cfg *Config, key string) bool {
	switch strings.ToLower(cfg.Values[key]) {
	case "1", "yes", "true", "on":
		return true
	}
	return false
}

func initConfig(cfg *Config) {
	rootDir = valueOr(cfg, "RPMKIT_ROOT", "/")
	dbPath = valueOr(cfg, "RPMKIT_DBPATH", "/var/lib/rpmkit")
	topDir = valueOr(cfg, "RPMKIT_TOPDIR", "/usr/src/rpmkit")
	tmpPath = valueOr(cfg, "RPMKIT_TMPPATH", "/var/tmp")
	macroFiles = valueOr(cfg, "RPMKIT_MACROFILES", "/usr/lib/rpmkit/macros:/usr/lib/rpmkit/macros.d/*:/etc/rpmkit/macros")
	platformFile = valueOr(cfg, "RPMKIT_PLATFORMS", "/etc/rpmkit/platforms.toml")
	keyDir = valueOr(cfg, "RPMKIT_KEYDIR", "/etc/rpmkit/keys")
	cacheDir = valueOr(cfg, "RPMKIT_CACHE_DIR", "/var/cache/rpmkit")
	logFile = cfg.Values["RPMKIT_LOGFILE"]
	signKeyID = valueOr(cfg, "RPMKIT_SIGNKEY", "rpmkit")

	Debug = enabled(cfg, "RPMKIT_DEBUG")
	Verbose = enabled(cfg, "RPMKIT_VERBOSE")
	EnableMultilib = enabled(cfg, "RPMKIT_MULTILIB")
	setIdlePriority = enabled(cfg, "RPMKIT_IDLE")

	debugf("=> root %s, database %s, topdir %s\n", rootDir, dbPath, topDir)
}

// databaseDir is the database directory as seen from the host.
func databaseDir() string {
	return filepath.Join(rootDir, dbPath)
}
