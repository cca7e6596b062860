package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/counselsim/internal/domain"
)

// Catalog resolves patient ids against a primary dataset, falling back to
// the static demo patients.
type Catalog struct {
	primary  Source
	fallback *StaticSource
	logger   *slog.Logger
}

// NewCatalog wraps primary, which may be nil, with the static fallback.
func NewCatalog(primary Source, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{primary: primary, fallback: NewStaticSource(), logger: logger}
}

// Primary returns the dataset source, or nil when only static patients exist.
func (c *Catalog) Primary() Source {
	return c.primary
}

// IDs lists the primary dataset's ids, or the static ids when the dataset
// is unavailable or empty.
func (c *Catalog) IDs(ctx context.Context) ([]string, error) {
	if c.primary != nil {
		ids, err := c.primary.IDs(ctx)
		if err == nil && len(ids) > 0 {
			return ids, nil
		}
		if err != nil {
			c.logger.Warn("Dataset unavailable, using static patients", "error", err)
		}
	}
	return c.fallback.IDs(ctx)
}

// Resolve returns the normalized record for id. A record that exists but
// cannot be normalized is reported as ErrInvalidFormat, not masked.
func (c *Catalog) Resolve(ctx context.Context, id string) (Record, error) {
	if c.primary != nil {
		rec, err := c.primary.Lookup(ctx, id)
		switch {
		case err == nil:
			return rec, nil
		case errors.Is(err, domain.ErrInvalidFormat):
			return Record{}, err
		case !errors.Is(err, domain.ErrNotFound):
			c.logger.Warn("Dataset lookup failed, trying static patients", "patient_id", id, "error", err)
		}
	}

	rec, err := c.fallback.Lookup(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("resolve patient: %w", err)
	}
	return rec, nil
}
