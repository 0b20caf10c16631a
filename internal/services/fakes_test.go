package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ems-dashboard/backend/internal/cache"
	"github.com/ems-dashboard/backend/internal/config"
	"github.com/ems-dashboard/backend/internal/geocode"
	"github.com/ems-dashboard/backend/internal/metrics"
	"github.com/ems-dashboard/backend/internal/models"
	"github.com/ems-dashboard/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var errStorageDown = errors.New("connection refused")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeConsents struct {
	mu      sync.Mutex
	records map[uuid.UUID]models.ConsentRecord
	err     error
}

func newFakeConsents() *fakeConsents {
	return &fakeConsents{records: map[uuid.UUID]models.ConsentRecord{}}
}

func (f *fakeConsents) Get(_ context.Context, id uuid.UUID) (*models.ConsentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Upsert mirrors the consent_date CASE in ConsentRepo.Upsert, which
// TestConsentRepoUpsertTransitions checks against Postgres.
func (f *fakeConsents) Upsert(_ context.Context, id uuid.UUID, has bool, level string, now time.Time) (*models.ConsentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.records[id]
	if !ok {
		c = models.DefaultConsent(id)
	}
	if has && !c.HasConsent {
		t := now
		c.ConsentDate = &t
	}
	c.HasConsent = has
	c.ConsentLevel = level
	c.UpdatedAt = now
	f.records[id] = c
	return &c, nil
}

func (f *fakeConsents) List(_ context.Context, filter repositories.ConsentFilter) ([]models.ConsentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	want := map[uuid.UUID]bool{}
	for _, id := range filter.SubjectIDs {
		want[id] = true
	}
	var out []models.ConsentRecord
	for id, c := range f.records {
		if len(want) > 0 && !want[id] {
			continue
		}
		if filter.HasConsent != nil && c.HasConsent != *filter.HasConsent {
			continue
		}
		if filter.Level != nil && c.ConsentLevel != *filter.Level {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

type sampleKey struct {
	subject uuid.UUID
	at      int64
}

type fakeSamples struct {
	mu      sync.Mutex
	rows    map[sampleKey]models.LocationSample
	err     error
	onRow   func()
	inserts int
}

func newFakeSamples() *fakeSamples {
	return &fakeSamples{rows: map[sampleKey]models.LocationSample{}}
}

func (f *fakeSamples) put(s models.LocationSample) {
	f.mu.Lock()
	f.rows[sampleKey{s.SubjectID, s.Timestamp.UnixNano()}] = s
	f.mu.Unlock()
}

func (f *fakeSamples) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeSamples) Insert(_ context.Context, s models.LocationSample) (models.LocationSample, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.LocationSample{}, false, f.err
	}
	f.inserts++
	k := sampleKey{s.SubjectID, s.Timestamp.UnixNano()}
	if existing, ok := f.rows[k]; ok {
		return existing, false, nil
	}
	f.rows[k] = s
	return s, true, nil
}

func (f *fakeSamples) sorted(subjectID uuid.UUID) []models.LocationSample {
	var out []models.LocationSample
	for _, s := range f.rows {
		if s.SubjectID == subjectID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (f *fakeSamples) Latest(_ context.Context, subjectID uuid.UUID) (*models.LocationSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rows := f.sorted(subjectID)
	if len(rows) == 0 {
		return nil, nil
	}
	s := rows[len(rows)-1]
	return &s, nil
}

func (f *fakeSamples) Timeline(ctx context.Context, subjectID uuid.UUID, from, to time.Time, fn func(models.LocationSample) error) error {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	rows := f.sorted(subjectID)
	onRow := f.onRow
	f.mu.Unlock()

	for _, s := range rows {
		if s.Timestamp.Before(from) || !s.Timestamp.Before(to) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		if onRow != nil {
			onRow()
		}
	}
	return ctx.Err()
}

func (f *fakeSamples) DeleteOlderThan(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for k, s := range f.rows {
		if n >= int64(limit) {
			break
		}
		if s.Timestamp.Before(cutoff) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
	fail    bool
	calls   int
}

func (f *fakeAudit) InsertMany(_ context.Context, entries []models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errStorageDown
	}
	seen := map[uuid.UUID]bool{}
	for _, e := range f.entries {
		seen[e.ID] = true
	}
	for _, e := range entries {
		if !seen[e.ID] {
			f.entries = append(f.entries, e)
		}
	}
	return nil
}

func (f *fakeAudit) Query(_ context.Context, filter repositories.AuditFilter) ([]models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range f.entries {
		if filter.SubjectID != nil && e.SubjectID != *filter.SubjectID {
			continue
		}
		if filter.OperatorID != nil && e.OperatorID != *filter.OperatorID {
			continue
		}
		if filter.Action != nil && e.Action != *filter.Action {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeAudit) all() []models.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AuditEntry(nil), f.entries...)
}

type fakeSpill struct {
	mu      sync.Mutex
	pending []models.AuditEntry
	err     error
}

func (f *fakeSpill) Push(_ context.Context, entries []models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.pending = append(f.pending, entries...)
	return nil
}

func (f *fakeSpill) Peek(_ context.Context, n int) ([]models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.pending) {
		n = len(f.pending)
	}
	return append([]models.AuditEntry(nil), f.pending[:n]...), nil
}

func (f *fakeSpill) Ack(_ context.Context, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = f.pending[n:]
	return nil
}

type fakeDirectory struct {
	subjects []models.Subject
}

func (f *fakeDirectory) List(_ context.Context, filter repositories.SubjectFilter) ([]models.Subject, error) {
	var out []models.Subject
	for _, s := range f.subjects {
		if filter.Team != nil && (s.Team == nil || !strings.EqualFold(*s.Team, *filter.Team)) {
			continue
		}
		if filter.Role != nil && !strings.EqualFold(s.Role, *filter.Role) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	views []models.CurrentLocationView
}

func (f *fakeNotifier) Publish(_ context.Context, v models.CurrentLocationView) {
	f.mu.Lock()
	f.views = append(f.views, v)
	f.mu.Unlock()
}

func (f *fakeNotifier) published() []models.CurrentLocationView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CurrentLocationView(nil), f.views...)
}

type fakeResolver struct {
	addr *models.Address
	err  error
}

func (f fakeResolver) Resolve(context.Context, float64, float64) (*models.Address, error) {
	if f.err != nil {
		return nil, f.err
	}
	a := *f.addr
	return &a, nil
}

// env wires every service against in-memory storage and one shared clock.
type env struct {
	cfg       *config.Config
	clock     *testClock
	consents  *fakeConsents
	samples   *fakeSamples
	auditRepo *fakeAudit
	spill     *fakeSpill
	directory *fakeDirectory
	notifier  *fakeNotifier
	cache     *cache.CurrentLocations
	metrics   *metrics.Metrics

	consentSvc *ConsentService
	ingestor   *LocationIngestor
	audit      *AuditLogger
	query      *LocationQueryService
}

func newEnv(start time.Time, resolver *fakeResolver) *env {
	e := &env{
		cfg: &config.Config{
			RetentionWindow:      90 * 24 * time.Hour,
			LivenessIdleAfter:    10 * time.Minute,
			LivenessOfflineAfter: 30 * time.Minute,
			MaxClockSkew:         5 * time.Minute,
		},
		clock:     &testClock{t: start},
		consents:  newFakeConsents(),
		samples:   newFakeSamples(),
		auditRepo: &fakeAudit{},
		spill:     &fakeSpill{},
		directory: &fakeDirectory{},
	}
	e.wire(resolver)
	return e
}

// peer is a second API instance over the same storage, directory and clock.
// It has its own cache and receives no events from e.
func (e *env) peer() *env {
	p := *e
	p.wire(nil)
	return &p
}

func (e *env) wire(resolver *fakeResolver) {
	log := zap.NewNop()
	e.notifier = &fakeNotifier{}
	e.cache = cache.NewCurrentLocations()
	e.metrics = metrics.New(prometheus.NewRegistry())

	e.consentSvc = NewConsentService(e.consents, log)
	e.consentSvc.now = e.clock.Now

	e.audit = NewAuditLogger(e.auditRepo, e.spill, time.Millisecond, e.metrics, log)
	e.audit.now = e.clock.Now
	e.audit.initialInterval = time.Millisecond

	var r geocode.Resolver
	if resolver != nil {
		r = *resolver
	}
	e.ingestor = NewLocationIngestor(e.consentSvc, e.samples, e.cache, r, e.notifier, e.cfg, e.metrics, log)
	e.ingestor.now = e.clock.Now

	e.query = NewLocationQueryService(e.consentSvc, e.samples, e.directory, e.cache, e.audit, e.cfg, log)
	e.query.now = e.clock.Now
}

func (e *env) addSubject(name, role, team string) models.Subject {
	s := models.Subject{ID: uuid.New(), Name: name, Role: role, Team: &team}
	e.directory.subjects = append(e.directory.subjects, s)
	return s
}
