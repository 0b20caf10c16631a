package geocode

import (
	"context"
	"errors"

	"github.com/ems-dashboard/backend/internal/models"
)

// ErrUnavailable means no address could be resolved for the coordinates.
var ErrUnavailable = errors.New("reverse geocoding unavailable")

// Resolver turns coordinates into a coarse address. A nil Resolver means the
// ingestor keeps whatever address the client reported.
type Resolver interface {
	Resolve(ctx context.Context, lat, lng float64) (*models.Address, error)
}
