package config

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
)

// File is the optional TOML configuration of the serve command
//
//	[server]
//	addr = "0.0.0.0:4000"
//	idle_timeout = "5m"
//
//	[storage]
//	dir = "/var/lib/vortex/pieces"
type File struct {
	Server  FileServer `toml:"server"`
	Storage Storage    `toml:"storage"`
	Sentry  Sentry     `toml:"sentry"`
}

// FileServer is the [server] section
type FileServer struct {
	Addr        string `toml:"addr"`
	HealthAddr  string `toml:"health_addr"`
	IdleTimeout string `toml:"idle_timeout"`

	idleTimeout time.Duration
}

// LoadFile reads and decodes a TOML configuration file
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}

	var f File
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, goerr.Wrap(err, "failed to decode config file", goerr.V("path", path))
	}

	if f.Server.IdleTimeout != "" {
		d, err := time.ParseDuration(f.Server.IdleTimeout)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid server.idle_timeout",
				goerr.V("path", path), goerr.V("value", f.Server.IdleTimeout))
		}
		f.Server.idleTimeout = d
	}

	return &f, nil
}

// IsSetFunc reports whether a flag was given explicitly
type IsSetFunc func(name string) bool

// Apply copies file values into the destinations whose flags were not set
// explicitly
func (f *File) Apply(isSet IsSetFunc, server *Server, storage *Storage, sentry *Sentry) {
	setString(isSet, "addr", &server.Addr, f.Server.Addr)
	setString(isSet, "health-addr", &server.HealthAddr, f.Server.HealthAddr)
	if f.Server.IdleTimeout != "" && !isSet("idle-timeout") {
		server.IdleTimeout = f.Server.idleTimeout
	}

	// A backend chosen by flag replaces the file's storage section as a whole
	if !isSet("storage-dir") && !isSet("gcs-bucket") && !isSet("gcs-prefix") {
		setString(isSet, "storage-dir", &storage.Dir, f.Storage.Dir)
		setString(isSet, "gcs-bucket", &storage.GCSBucket, f.Storage.GCSBucket)
		setString(isSet, "gcs-prefix", &storage.GCSPrefix, f.Storage.GCSPrefix)
	}

	setString(isSet, "sentry-dsn", &sentry.DSN, f.Sentry.DSN)
	setString(isSet, "sentry-env", &sentry.Environment, f.Sentry.Environment)
}

func setString(isSet IsSetFunc, name string, dst *string, v string) {
	if v == "" || isSet(name) {
		return
	}
	*dst = v
}
