package config

import (
	"time"

	"github.com/dragonflyoss/vortex/pkg/domain/types"
	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Sentry holds crash reporting configuration
type Sentry struct {
	DSN         string `toml:"dsn" masq:"secret"`
	Environment string `toml:"environment"`
}

// Flags returns CLI flags for Sentry configuration
func (c *Sentry) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "sentry-dsn",
			Usage:       "Sentry DSN for crash reporting (disabled if empty)",
			Destination: &c.DSN,
			Sources:     cli.EnvVars("VORTEX_SENTRY_DSN"),
		},
		&cli.StringFlag{
			Name:        "sentry-env",
			Usage:       "Sentry environment name",
			Value:       "production",
			Destination: &c.Environment,
			Sources:     cli.EnvVars("VORTEX_SENTRY_ENV"),
		},
	}
}

// Configure initializes the Sentry client if a DSN is set. The returned
// flush function is never nil.
func (c *Sentry) Configure() (func(), error) {
	if c.DSN == "" {
		return func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         c.DSN,
		Environment: c.Environment,
		Release:     "vortex@" + types.Version,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize sentry")
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}
