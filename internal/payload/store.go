// Package payload stores large message bodies out of band so queues only
// carry a reference to them.
package payload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a requested payload does not exist.
	ErrNotFound = errors.New("payload: not found")
	// ErrInvalidID is returned for IDs that are empty or contain path separators.
	ErrInvalidID = errors.New("payload: invalid id")
)

// Store is a claim-check store keyed by message ID.
type Store interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// Config selects and configures the payload store.
type Config struct {
	Type       string `mapstructure:"type"` // "local" or "s3"
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// New creates the Store named by cfg.Type. An empty type falls back to the
// local store with a warning.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	switch cfg.Type {
	case "local":
		return NewLocalStore(cfg.Path)
	case "s3":
		return NewS3StoreFromConfig(ctx, cfg)
	case "":
		log.Warn().Msg("Payload store type not set, defaulting to local")
		return NewLocalStore(cfg.Path)
	default:
		return nil, fmt.Errorf("payload: unknown store type: %s", cfg.Type)
	}
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
