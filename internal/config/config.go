// Package config reads connector settings from MV_* environment variables,
// an optional .env file and the customer profiles file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAddr          = ":8080"
	DefaultProfilesPath  = "mistral_clients.json"
	DefaultMappingFile   = "mapping.json"
	DefaultNameLikeLimit = 5
	DefaultTokenTTL      = 8 * time.Hour
	DefaultPassLimit     = 100
)

// Config holds process-wide settings.
type Config struct {
	Addr         string
	ProfilesPath string
	ProfileName  string

	// ForceTableLogin skips a discovered login procedure and authenticates
	// against the credentials table directly.
	ForceTableLogin bool
	// EnableOpenDelivery switches delivery persistence from dry-run to live.
	EnableOpenDelivery bool
	HashGuessing       bool
	NameLikeLimit      int

	MappingFile string
	SchemaDump  string
	SnapshotDB  string

	// TokenTTL is the lifetime of operator tokens issued by the API.
	TokenTTL time.Duration
	// PassLimit caps resolution passes kept in memory by the API.
	PassLimit int
}

// Load reads envFiles (missing files are ignored) into the process
// environment without overriding variables that are already set, then
// builds a Config from the environment.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config using lookup for every variable.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	cfg := Config{
		Addr:               get("MV_ADDR", DefaultAddr),
		ProfilesPath:       get("MV_PROFILES", DefaultProfilesPath),
		ProfileName:        get("MV_PROFILE", ""),
		ForceTableLogin:    Truthy(get("MV_FORCE_TABLE_LOGIN", "")),
		EnableOpenDelivery: Truthy(get("MV_ENABLE_OPEN_DELIVERY", "")),
		HashGuessing:       Truthy(get("MV_HASH_GUESSING", "1")),
		NameLikeLimit:      DefaultNameLikeLimit,
		MappingFile:        get("MV_MAPPING_FILE", DefaultMappingFile),
		SchemaDump:         get("MV_SCHEMA_DUMP", ""),
		SnapshotDB:         get("MV_SNAPSHOT_DB", ""),
		TokenTTL:           DefaultTokenTTL,
		PassLimit:          DefaultPassLimit,
	}
	if raw := get("MV_DB_NAME_LIKE_LIMIT", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: MV_DB_NAME_LIKE_LIMIT must be a positive integer, got %q", raw)
		}
		cfg.NameLikeLimit = n
	}
	if raw := get("MV_TOKEN_TTL", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("config: MV_TOKEN_TTL must be a positive duration, got %q", raw)
		}
		cfg.TokenTTL = d
	}
	if raw := get("MV_PASS_LIMIT", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: MV_PASS_LIMIT must be a positive integer, got %q", raw)
		}
		cfg.PassLimit = n
	}
	return cfg, nil
}

// Truthy reports whether s is one of the accepted "on" spellings.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
