package events

import (
	"context"

	"github.com/ems-dashboard/backend/internal/cache"
	"github.com/ems-dashboard/backend/internal/models"
	"go.uber.org/zap"
)

// LocationNotifier publishes current-location changes to every API instance.
// Publishing is best effort: failures are logged and dashboards catch up on
// their next query.
type LocationNotifier struct {
	publisher Publisher
	log       *zap.Logger
}

func NewLocationNotifier(publisher Publisher, log *zap.Logger) *LocationNotifier {
	return &LocationNotifier{publisher: publisher, log: log}
}

func (n *LocationNotifier) Publish(ctx context.Context, view models.CurrentLocationView) {
	event, err := NewLocationUpdated(view)
	if err != nil {
		n.log.Error("failed to encode location event", zap.String("subject_id", view.SubjectID.String()), zap.Error(err))
		return
	}
	if err := n.publisher.Publish(context.WithoutCancel(ctx), StreamLocation, event); err != nil {
		n.log.Warn("failed to publish location event", zap.String("subject_id", view.SubjectID.String()), zap.Error(err))
	}
}

// Relay feeds location events from the shared stream into this instance's
// current-location cache and broadcaster until ctx is done. Samples stored by
// other instances reach the cache only through here.
func Relay(ctx context.Context, sub Subscriber, current *cache.CurrentLocations, b *Broadcaster, log *zap.Logger) error {
	return sub.Subscribe(ctx, StreamLocation, func(e Event) {
		u, err := DecodeLocationUpdated(e)
		if err != nil {
			log.Warn("ignoring malformed location event", zap.String("type", e.Type), zap.Error(err))
			return
		}
		current.Offer(u.View.Sample)
		b.Deliver(u.View)
	})
}
