package geocode

import (
	"context"
	"fmt"
	"time"

	"github.com/ems-dashboard/backend/internal/models"
	"googlemaps.github.io/maps"
)

// GoogleResolver uses the Google Maps Geocoding API.
type GoogleResolver struct {
	client  *maps.Client
	timeout time.Duration
}

func NewGoogleResolver(apiKey string, timeout time.Duration) (*GoogleResolver, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &GoogleResolver{client: c, timeout: timeout}, nil
}

func (g *GoogleResolver) Resolve(ctx context.Context, lat, lng float64) (*models.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for _, r := range results {
		if addr := addressFromComponents(r.AddressComponents); addr != nil {
			return addr, nil
		}
	}
	return nil, ErrUnavailable
}

// addressFromComponents picks city, region and country out of a geocoding
// result. It returns nil when none of them is present.
func addressFromComponents(components []maps.AddressComponent) *models.Address {
	var addr models.Address
	var fallbackCity string

	for _, c := range components {
		for _, t := range c.Types {
			switch t {
			case "locality":
				addr.City = c.LongName
			case "postal_town", "administrative_area_level_2":
				if fallbackCity == "" {
					fallbackCity = c.LongName
				}
			case "administrative_area_level_1":
				addr.Region = c.LongName
			case "country":
				addr.Country = c.LongName
			}
		}
	}
	if addr.City == "" {
		addr.City = fallbackCity
	}

	if addr == (models.Address{}) {
		return nil
	}
	return &addr
}
