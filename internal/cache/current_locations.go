package cache

import (
	"time"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// CurrentLocations keeps the latest accepted sample per subject. Updates for one
// subject are serialized by the map shard lock; different subjects rarely share
// a shard and never share a global lock.
type CurrentLocations struct {
	views cmap.ConcurrentMap[uuid.UUID, models.CurrentLocationView]
}

func NewCurrentLocations() *CurrentLocations {
	return &CurrentLocations{
		views: cmap.NewStringer[uuid.UUID, models.CurrentLocationView](),
	}
}

// Offer installs sample as the subject's current location if it is strictly newer
// than the cached one. The later timestamp wins regardless of arrival order.
// changed reports whether the view was replaced; view is the cached view after
// the call either way.
func (c *CurrentLocations) Offer(sample models.LocationSample) (view models.CurrentLocationView, changed bool) {
	candidate := models.CurrentLocationView{
		SubjectID: sample.SubjectID,
		Sample:    sample,
	}

	view = c.views.Upsert(sample.SubjectID, candidate, func(exist bool, current, next models.CurrentLocationView) models.CurrentLocationView {
		if exist && !next.Sample.Timestamp.After(current.Sample.Timestamp) {
			changed = false
			return current
		}
		changed = true
		return next
	})
	return view, changed
}

// EvictBefore drops the subject's view if its sample is older than cutoff. A
// newer view installed concurrently is left alone.
func (c *CurrentLocations) EvictBefore(subjectID uuid.UUID, cutoff time.Time) bool {
	return c.views.RemoveCb(subjectID, func(_ uuid.UUID, v models.CurrentLocationView, exists bool) bool {
		return exists && v.Sample.Timestamp.Before(cutoff)
	})
}

func (c *CurrentLocations) Get(subjectID uuid.UUID) (models.CurrentLocationView, bool) {
	return c.views.Get(subjectID)
}

func (c *CurrentLocations) Len() int {
	return c.views.Count()
}
