package gcs

import (
	"context"
	"errors"
	"io"
	"strconv"

	"cloud.google.com/go/storage"
	"github.com/dragonflyoss/vortex/pkg/domain/model"
	"github.com/dragonflyoss/vortex/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/option"
)

// Store reads pieces from gs://{bucket}/{prefix}{task_id}/{piece_number}
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

type config struct {
	prefix     string
	clientOpts []option.ClientOption
}

// Option is a functional option for Store configuration
type Option func(*config)

// WithPrefix sets the object name prefix, e.g. "pieces/"
func WithPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// WithClientOptions passes options to the underlying storage client
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

// New creates a GCS backed piece store
func New(ctx context.Context, bucket string, opts ...Option) (*Store, error) {
	if bucket == "" {
		return nil, goerr.New("bucket name is required")
	}

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := storage.NewClient(ctx, cfg.clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client", goerr.V("bucket", bucket))
	}

	return &Store{
		client: client,
		bucket: bucket,
		prefix: cfg.prefix,
	}, nil
}

// ObjectName returns the object name for a piece
func (s *Store) ObjectName(key model.PieceKey) string {
	return s.prefix + key.TaskID + "/" + strconv.FormatUint(uint64(key.Number), 10)
}

// ReadPiece downloads the piece object
func (s *Store) ReadPiece(ctx context.Context, key model.PieceKey) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	name := s.ObjectName(key)
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, goerr.Wrap(types.ErrPieceNotFound, "piece object does not exist",
				goerr.V("bucket", s.bucket), goerr.V("object", name))
		}
		return nil, goerr.Wrap(err, "failed to open piece object",
			goerr.V("bucket", s.bucket), goerr.V("object", name))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read piece object",
			goerr.V("bucket", s.bucket), goerr.V("object", name))
	}

	return data, nil
}

// Close releases the storage client
func (s *Store) Close() error {
	return s.client.Close()
}
