package config

import (
	"time"

	"github.com/urfave/cli/v3"
)

// Server holds server configuration
type Server struct {
	Addr        string
	HealthAddr  string
	IdleTimeout time.Duration
}

// Flags returns CLI flags for server configuration
func (c *Server) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Vortex TCP listen address",
			Value:       "localhost:4000",
			Destination: &c.Addr,
			Sources:     cli.EnvVars("VORTEX_ADDR"),
		},
		&cli.StringFlag{
			Name:        "health-addr",
			Usage:       "HTTP health check listen address (empty to disable)",
			Value:       "localhost:4080",
			Destination: &c.HealthAddr,
			Sources:     cli.EnvVars("VORTEX_HEALTH_ADDR"),
		},
		&cli.DurationFlag{
			Name:        "idle-timeout",
			Usage:       "Close connections that send no request for this duration (0 to disable)",
			Value:       5 * time.Minute,
			Destination: &c.IdleTimeout,
			Sources:     cli.EnvVars("VORTEX_IDLE_TIMEOUT"),
		},
	}
}
