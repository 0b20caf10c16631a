package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/google/uuid"
)

// Streams
const (
	StreamLocation = "events:location"
)

// Event types
const (
	EventLocationUpdated = "location:updated"
)

type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

type LocationUpdated struct {
	SubjectID uuid.UUID                  `json:"subject_id"`
	View      models.CurrentLocationView `json:"view"`
}

func NewLocationUpdated(view models.CurrentLocationView) (Event, error) {
	payload, err := json.Marshal(LocationUpdated{SubjectID: view.SubjectID, View: view})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventLocationUpdated, Payload: payload}, nil
}

func DecodeLocationUpdated(e Event) (LocationUpdated, error) {
	if e.Type != EventLocationUpdated {
		return LocationUpdated{}, fmt.Errorf("unexpected event type %q", e.Type)
	}
	var u LocationUpdated
	if err := json.Unmarshal(e.Payload, &u); err != nil {
		return LocationUpdated{}, err
	}
	return u, nil
}
