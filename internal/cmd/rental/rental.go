// Package rental parses rental command flags and composes the server
// entrypoint.
package rental

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/platform/cmd"
	server "github.com/JeanKoerich/aluguel-bicicletas-eventos/internal/services/rental/app"
)

// Config holds rental command configuration.
type Config struct {
	HTTPAddr string `env:"ALUGUEL_HTTP_ADDR" envDefault:":4000"`
	SeedPath string `env:"ALUGUEL_SEED_PATH"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "rental HTTP listen address")
	fs.StringVar(&cfg.SeedPath, "seed-path", cfg.SeedPath, "JSON fleet seed file (defaults to the built-in demo fleet)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the rental app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRental, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr: cfg.HTTPAddr,
			SeedPath: cfg.SeedPath,
		}); err != nil {
			return fmt.Errorf("serve rental: %w", err)
		}
		return nil
	})
}
