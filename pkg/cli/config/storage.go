package config

import (
	"context"

	"github.com/dragonflyoss/vortex/pkg/domain/interfaces"
	"github.com/dragonflyoss/vortex/pkg/infra/fs"
	"github.com/dragonflyoss/vortex/pkg/infra/gcs"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Storage holds piece store configuration. Exactly one of Dir and
// GCSBucket must be set.
type Storage struct {
	Dir       string `toml:"dir"`
	GCSBucket string `toml:"gcs_bucket"`
	GCSPrefix string `toml:"gcs_prefix"`
}

// Flags returns CLI flags for storage configuration
func (c *Storage) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage-dir",
			Usage:       "Directory holding pieces as {task_id}/{piece_number}",
			Destination: &c.Dir,
			Sources:     cli.EnvVars("VORTEX_STORAGE_DIR"),
		},
		&cli.StringFlag{
			Name:        "gcs-bucket",
			Usage:       "Google Cloud Storage bucket holding pieces",
			Destination: &c.GCSBucket,
			Sources:     cli.EnvVars("VORTEX_GCS_BUCKET"),
		},
		&cli.StringFlag{
			Name:        "gcs-prefix",
			Usage:       "Object name prefix inside the bucket",
			Destination: &c.GCSPrefix,
			Sources:     cli.EnvVars("VORTEX_GCS_PREFIX"),
		},
	}
}

// Validate checks that exactly one backend is selected
func (c *Storage) Validate() error {
	switch {
	case c.Dir == "" && c.GCSBucket == "":
		return goerr.New("either storage-dir or gcs-bucket is required")
	case c.Dir != "" && c.GCSBucket != "":
		return goerr.New("storage-dir and gcs-bucket are mutually exclusive",
			goerr.V("dir", c.Dir), goerr.V("bucket", c.GCSBucket))
	}
	return nil
}

// Configure builds the piece store. The returned close function releases
// backend resources and is never nil.
func (c *Storage) Configure(ctx context.Context) (interfaces.PieceStore, func(), error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	if c.Dir != "" {
		store, err := fs.New(c.Dir)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to open storage directory")
		}
		return store, func() {}, nil
	}

	store, err := gcs.New(ctx, c.GCSBucket, gcs.WithPrefix(c.GCSPrefix))
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to open GCS bucket")
	}
	return store, func() { _ = store.Close() }, nil
}
