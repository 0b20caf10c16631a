package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ems-dashboard/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestCurrentLocationsRedactionFollowsConsentUpgrade(t *testing.T) {
	t0 := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	e := newEnv(t0, &fakeResolver{addr: &models.Address{City: "Mumbai", Region: "Maharashtra", Country: "India"}})
	ctx := context.Background()
	subject := e.addSubject("Asha", "employee", "field")
	op := Operator{ID: uuid.New(), Origin: "10.0.0.7"}

	if _, err := e.consentSvc.SetConsent(ctx, subject.ID, true, models.ConsentLevelBasic); err != nil {
		t.Fatal(err)
	}

	e.clock.Set(t0.Add(time.Minute))
	if _, err := e.ingestor.Record(ctx, subject.ID, RawSample{
		Latitude: f64(19.07), Longitude: f64(72.87), AccuracyMeters: f64(20), Source: models.SourceGPS,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	requestStart := t0.Add(2 * time.Minute)
	e.clock.Set(requestStart)
	got, err := e.query.CurrentLocations(ctx, op, CurrentFilter{})
	if err != nil {
		t.Fatalf("CurrentLocations: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d locations, want 1", len(got))
	}
	loc := got[0].Location
	if loc.Sample.Coordinates != nil {
		t.Errorf("basic consent disclosed coordinates %+v", loc.Sample.Coordinates)
	}
	if loc.Sample.Address == nil || loc.Sample.Address.City != "Mumbai" {
		t.Errorf("address = %+v, want city Mumbai", loc.Sample.Address)
	}
	if loc.Status != models.StatusOnline {
		t.Errorf("status = %q, want online", loc.Status)
	}

	entries := e.auditRepo.all()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	a := entries[0]
	if a.OperatorID != op.ID || a.SubjectID != subject.ID || a.Action != models.AuditActionViewCurrent || a.Origin != op.Origin {
		t.Errorf("audit entry = %+v", a)
	}
	if a.Timestamp.Before(requestStart) {
		t.Errorf("audit timestamp %v before request start %v", a.Timestamp, requestStart)
	}

	e.clock.Set(t0.Add(3 * time.Minute))
	if _, err := e.consentSvc.SetConsent(ctx, subject.ID, true, models.ConsentLevelDetailed); err != nil {
		t.Fatal(err)
	}
	got, err = e.query.CurrentLocations(ctx, op, CurrentFilter{})
	if err != nil {
		t.Fatal(err)
	}
	c := got[0].Location.Sample.Coordinates
	if c == nil || c.Latitude != 19.07 || c.Longitude != 72.87 {
		t.Errorf("detailed coordinates = %+v, want (19.07, 72.87)", c)
	}
	if got[0].Location.Sample.Address.Country != "India" {
		t.Errorf("detailed address = %+v", got[0].Location.Sample.Address)
	}
	if n := len(e.auditRepo.all()); n != 2 {
		t.Errorf("audit entries = %d, want 2", n)
	}
}

func TestCurrentLocationsFiltersAndOmissions(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	e := newEnv(now, nil)
	ctx := context.Background()

	fresh := e.addSubject("Fresh", "employee", "field")
	stale := e.addSubject("Stale", "employee", "field")
	noConsent := e.addSubject("Private", "employee", "field")
	office := e.addSubject("Office", "manager", "hq")

	for _, s := range []models.Subject{fresh, stale, office} {
		if _, err := e.consentSvc.SetConsent(ctx, s.ID, true, models.ConsentLevelDetailed); err != nil {
			t.Fatal(err)
		}
	}

	put := func(id uuid.UUID, age time.Duration, meters float64) {
		e.samples.put(models.LocationSample{
			SubjectID:   id,
			Timestamp:   now.Add(-age),
			Coordinates: &models.Coordinates{Latitude: 1, Longitude: 1},
			Accuracy:    models.ClassifyAccuracy(&meters),
			Source:      models.SourceGPS,
		})
	}
	put(fresh.ID, time.Minute, 10)
	put(stale.ID, time.Hour, 1000)
	put(noConsent.ID, time.Minute, 10)
	put(office.ID, time.Minute, 10)

	op := Operator{ID: office.ID, Origin: "10.0.0.1"}
	str := func(s string) *string { return &s }

	tests := []struct {
		name   string
		filter CurrentFilter
		want   []uuid.UUID
	}{
		{"all", CurrentFilter{}, []uuid.UUID{fresh.ID, stale.ID, office.ID}},
		{"team", CurrentFilter{Team: str("FIELD")}, []uuid.UUID{fresh.ID, stale.ID}},
		{"role", CurrentFilter{Role: str("manager")}, []uuid.UUID{office.ID}},
		{"accuracy", CurrentFilter{Accuracy: str(models.AccuracyLow)}, []uuid.UUID{stale.ID}},
		{"status", CurrentFilter{Status: str(models.StatusOffline)}, []uuid.UUID{stale.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.query.CurrentLocations(ctx, op, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d locations, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].Subject.ID != id {
					t.Errorf("location %d = %s, want %s", i, got[i].Subject.Name, id)
				}
			}
		})
	}

	if _, ok := e.cache.Get(fresh.ID); !ok {
		t.Error("cache not warmed from storage")
	}
	for _, a := range e.auditRepo.all() {
		if a.SubjectID == noConsent.ID {
			t.Error("audited a subject that was not disclosed")
		}
		if a.SubjectID == office.ID {
			t.Error("audited the operator viewing their own location")
		}
	}

	_, err := e.query.CurrentLocations(ctx, op, CurrentFilter{Accuracy: str("precise")})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func timelineEnv(t *testing.T) (*env, models.Subject, Operator, time.Time) {
	t.Helper()
	day := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	e := newEnv(day.Add(72*time.Hour), nil)
	subject := e.addSubject("Asha", "employee", "field")
	if _, err := e.consentSvc.SetConsent(context.Background(), subject.ID, true, models.ConsentLevelDetailed); err != nil {
		t.Fatal(err)
	}
	for _, at := range []time.Time{
		day.Add(-time.Second),
		day,
		day.Add(12 * time.Hour),
		day.Add(24*time.Hour - time.Microsecond),
		day.Add(24 * time.Hour),
		day.Add(36 * time.Hour),
	} {
		e.samples.put(models.LocationSample{
			SubjectID:   subject.ID,
			Timestamp:   at,
			Coordinates: &models.Coordinates{Latitude: 19.07, Longitude: 72.87},
			Accuracy:    models.AccuracyHigh,
			Source:      models.SourceGPS,
			Address:     &models.Address{City: "Mumbai", Region: "Maharashtra", Country: "India"},
		})
	}
	return e, subject, Operator{ID: uuid.New(), Origin: "10.0.0.2"}, day
}

func TestTimelineInclusiveDays(t *testing.T) {
	e, subject, op, day := timelineEnv(t)

	got, err := e.query.Timeline(context.Background(), op, subject.ID, day.Add(15*time.Hour), day.Add(9*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("single-day timeline = %d samples, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp.Before(got[i].Timestamp) {
			t.Error("timeline not in ascending order")
		}
	}

	got, err = e.query.Timeline(context.Background(), op, subject.ID, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Errorf("two-day timeline = %d samples, want 5", len(got))
	}

	entries := e.auditRepo.all()
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != models.AuditActionViewTimeline {
		t.Errorf("action = %q, want view_timeline", entries[0].Action)
	}
}

func TestTimelineEmptyCasesAreNotAudited(t *testing.T) {
	e, subject, op, day := timelineEnv(t)
	ctx := context.Background()

	got, err := e.query.Timeline(ctx, op, subject.ID, day.Add(48*time.Hour), day)
	if err != nil || len(got) != 0 {
		t.Errorf("inverted range = %d samples, err %v; want empty", len(got), err)
	}
	if got == nil {
		t.Error("inverted range returned nil, want empty slice")
	}

	if _, err := e.query.Timeline(ctx, op, subject.ID, time.Time{}, day); err != nil {
		t.Errorf("zero start: %v", err)
	}

	if _, err := e.consentSvc.SetConsent(ctx, subject.ID, false, ""); err != nil {
		t.Fatal(err)
	}
	got, err = e.query.Timeline(ctx, op, subject.ID, day, day)
	if err != nil || len(got) != 0 {
		t.Errorf("revoked consent = %d samples, err %v; want empty", len(got), err)
	}

	if n := len(e.auditRepo.all()); n != 0 {
		t.Errorf("audit entries = %d, want 0", n)
	}
}

func TestTimelineRevokeAndRegrantRestoresHistory(t *testing.T) {
	e, subject, op, day := timelineEnv(t)
	ctx := context.Background()

	before, err := e.query.Timeline(ctx, op, subject.ID, day, day)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.consentSvc.SetConsent(ctx, subject.ID, false, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.consentSvc.SetConsent(ctx, subject.ID, true, models.ConsentLevelBasic); err != nil {
		t.Fatal(err)
	}
	basic, err := e.query.Timeline(ctx, op, subject.ID, day, day)
	if err != nil {
		t.Fatal(err)
	}
	if len(basic) != len(before) {
		t.Fatalf("basic timeline = %d samples, want %d", len(basic), len(before))
	}
	for _, s := range basic {
		if s.Coordinates != nil || s.Address.Country != "" {
			t.Errorf("basic timeline leaked %+v", s)
		}
	}

	if _, err := e.consentSvc.SetConsent(ctx, subject.ID, true, models.ConsentLevelDetailed); err != nil {
		t.Fatal(err)
	}
	after, err := e.query.Timeline(ctx, op, subject.ID, day, day)
	if err != nil {
		t.Fatal(err)
	}
	for i := range before {
		if *after[i].Coordinates != *before[i].Coordinates || !after[i].Timestamp.Equal(before[i].Timestamp) {
			t.Errorf("sample %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestTimelineCancelledScanIsNotAudited(t *testing.T) {
	e, subject, op, day := timelineEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	e.samples.onRow = cancel

	_, err := e.query.Timeline(ctx, op, subject.ID, day, day.Add(24*time.Hour))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if n := len(e.auditRepo.all()); n != 0 {
		t.Errorf("audit entries = %d, want 0", n)
	}
}

func TestTimelineSelfViewAndExport(t *testing.T) {
	e, subject, op, day := timelineEnv(t)
	ctx := context.Background()

	if _, err := e.query.Timeline(ctx, Operator{ID: subject.ID}, subject.ID, day, day); err != nil {
		t.Fatal(err)
	}
	if n := len(e.auditRepo.all()); n != 0 {
		t.Errorf("self view audited %d entries", n)
	}

	if _, err := e.query.ExportTimeline(ctx, op, subject.ID, day, day); err != nil {
		t.Fatal(err)
	}
	entries := e.auditRepo.all()
	if len(entries) != 1 || entries[0].Action != models.AuditActionExportTimeline {
		t.Errorf("export audit = %+v, want one export_timeline entry", entries)
	}
}

func TestConsentOverview(t *testing.T) {
	e := newEnv(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC), nil)
	ctx := context.Background()

	a := e.addSubject("A", "employee", "field")
	b := e.addSubject("B", "employee", "field")
	e.addSubject("C", "employee", "field")
	if _, err := e.consentSvc.SetConsent(ctx, a.ID, true, models.ConsentLevelDetailed); err != nil {
		t.Fatal(err)
	}
	if _, err := e.consentSvc.SetConsent(ctx, b.ID, true, models.ConsentLevelBasic); err != nil {
		t.Fatal(err)
	}

	op := Operator{ID: uuid.New(), Origin: "10.0.0.3"}
	records, summary, err := e.query.ConsentOverview(ctx, op, ConsentOverviewFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Errorf("records = %d, want 3", len(records))
	}
	if summary != (models.ConsentSummary{Detailed: 1, Basic: 1, None: 1}) {
		t.Errorf("summary = %+v", summary)
	}

	granted := true
	records, _, err = e.query.ConsentOverview(ctx, op, ConsentOverviewFilter{HasConsent: &granted})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("granted records = %d, want 2", len(records))
	}

	entries := e.auditRepo.all()
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].SubjectID != uuid.Nil || entries[0].Action != models.AuditActionViewConsentList {
		t.Errorf("aggregate entry = %+v", entries[0])
	}
}

func TestCurrentLocationsSeesSamplesStoredByAnotherInstance(t *testing.T) {
	t0 := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	a := newEnv(t0, nil)
	b := a.peer()
	ctx := context.Background()
	subject := a.addSubject("Asha", "employee", "field")
	op := Operator{ID: uuid.New(), Origin: "10.0.0.9"}

	if _, err := a.consentSvc.SetConsent(ctx, subject.ID, true, models.ConsentLevelDetailed); err != nil {
		t.Fatal(err)
	}

	record := func(at time.Time, coord float64) {
		t.Helper()
		a.clock.Set(at)
		if _, err := a.ingestor.Record(ctx, subject.ID, RawSample{
			Latitude: f64(coord), Longitude: f64(coord), AccuracyMeters: f64(10), Source: models.SourceGPS,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	readOnB := func(at time.Time) models.CurrentLocationView {
		t.Helper()
		b.clock.Set(at)
		got, err := b.query.CurrentLocations(ctx, op, CurrentFilter{})
		if err != nil {
			t.Fatalf("CurrentLocations: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d locations, want 1", len(got))
		}
		return got[0].Location
	}

	record(t0.Add(time.Minute), 1)
	if v := readOnB(t0.Add(2 * time.Minute)); v.Sample.Coordinates.Latitude != 1 {
		t.Fatalf("first read = %+v", v.Sample.Coordinates)
	}

	// No event reaches B; its cached view has gone idle and is re-read from storage.
	record(t0.Add(20*time.Minute), 2)
	v := readOnB(t0.Add(20 * time.Minute))
	if v.Sample.Coordinates.Latitude != 2 || v.Status != models.StatusOnline {
		t.Errorf("after idle recheck = %+v status %s, want (2, 2) online", v.Sample.Coordinates, v.Status)
	}

	// Events relayed from A update B's cache before it would go idle.
	record(t0.Add(22*time.Minute), 3)
	for _, pub := range a.notifier.published() {
		b.cache.Offer(pub.Sample)
	}
	if v := readOnB(t0.Add(23 * time.Minute)); v.Sample.Coordinates.Latitude != 3 {
		t.Errorf("after relay = %+v, want (3, 3)", v.Sample.Coordinates)
	}
}

func TestCurrentLocationsHidesSamplesPastRetention(t *testing.T) {
	t0 := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	e := newEnv(t0, nil)
	ctx := context.Background()
	subject := e.addSubject("Asha", "employee", "field")
	op := Operator{ID: uuid.New(), Origin: "10.0.0.3"}

	if _, err := e.consentSvc.SetConsent(ctx, subject.ID, true, models.ConsentLevelDetailed); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ingestor.Record(ctx, subject.ID, RawSample{
		Latitude: f64(19.07), Longitude: f64(72.87), AccuracyMeters: f64(10), Source: models.SourceGPS,
	}); err != nil {
		t.Fatal(err)
	}
	got, err := e.query.CurrentLocations(ctx, op, CurrentFilter{})
	if err != nil || len(got) != 1 {
		t.Fatalf("initial read = %d locations, err %v", len(got), err)
	}

	e.clock.Set(t0.Add(91 * 24 * time.Hour))

	got, err = e.query.CurrentLocations(ctx, op, CurrentFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expired sample disclosed before sweep: %+v", got[0].Location.Sample)
	}

	sweeper := NewRetentionSweeper(e.samples, e.cfg.RetentionWindow, 100, e.metrics, zap.NewNop())
	sweeper.now = e.clock.Now
	deleted, err := sweeper.Sweep(ctx)
	if err != nil || deleted != 1 {
		t.Fatalf("Sweep = %d, %v; want 1 row", deleted, err)
	}

	got, err = e.query.CurrentLocations(ctx, op, CurrentFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("purged sample disclosed: %+v", got[0].Location.Sample)
	}
	if _, ok := e.cache.Get(subject.ID); ok {
		t.Error("purged sample still cached")
	}
	if n := len(e.auditRepo.all()); n != 1 {
		t.Errorf("audit entries = %d, want 1", n)
	}
}
