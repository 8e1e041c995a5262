package session

import (
	"context"

	"microvision.org/internal/config"
	"microvision.org/internal/schema"
)

// ConfigOptions translates process settings into session options.
func ConfigOptions(cfg config.Config) []Option {
	opts := []Option{
		WithForceTableLogin(cfg.ForceTableLogin),
		WithHashGuessing(cfg.HashGuessing),
	}
	if cfg.SchemaDump != "" {
		opts = append(opts, WithSchemaOptions(schema.WithDumpFile(cfg.SchemaDump)))
	}
	return opts
}

// OpenFromConfig loads the profiles file, selects cfg.ProfileName and opens
// it with the switches cfg carries. extra options are applied last.
func OpenFromConfig(ctx context.Context, cfg config.Config, extra ...Option) (*Context, error) {
	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return nil, err
	}
	p, err := profiles.Get(cfg.ProfileName)
	if err != nil {
		return nil, err
	}
	return Open(ctx, p, append(ConfigOptions(cfg), extra...)...)
}
