package handlers

import (
	"context"
	"time"

	"github.com/ems-dashboard/backend/internal/auth"
	"github.com/ems-dashboard/backend/internal/cache"
	"github.com/ems-dashboard/backend/internal/config"
	"github.com/ems-dashboard/backend/internal/events"
	"github.com/ems-dashboard/backend/internal/models"
	"github.com/ems-dashboard/backend/internal/rbac"
	"github.com/ems-dashboard/backend/internal/services"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsOriginKey    = "ws_origin"
)

// WSHub streams location:updated events to operator dashboards. Every event is
// redacted against the subject's consent at send time and audited like a
// current-location read, at most once per subject and coalescing window for each
// connection. Delivery is best effort; dashboards re-query on
// reconnect.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	current     *cache.CurrentLocations
	broadcaster *events.Broadcaster
	consents    *services.ConsentService
	audit       *services.AuditLogger
	log         *zap.Logger
}

func NewWSHub(
	cfg *config.Config,
	subscriber events.Subscriber,
	current *cache.CurrentLocations,
	broadcaster *events.Broadcaster,
	consents *services.ConsentService,
	audit *services.AuditLogger,
	log *zap.Logger,
) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		current:     current,
		broadcaster: broadcaster,
		consents:    consents,
		audit:       audit,
		log:         log,
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	return events.Relay(ctx, h.subscriber, h.current, h.broadcaster, h.log)
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals(wsOriginKey, c.IP())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	defer conn.Close()

	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		return
	}
	if !rbac.IsOperator(claims.Role) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"insufficient privileges"}`))
		return
	}

	origin, _ := conn.Locals(wsOriginKey).(string)
	op := services.Operator{ID: claims.UserID, Origin: origin}
	gate := newAuditGate(h.cfg.WSAuditCoalesceWindow)
	sub := h.broadcaster.Subscribe(h.cfg.WSSubscriberBuffer)
	defer h.broadcaster.Unsubscribe(sub)

	h.log.Debug("dashboard connected", zap.String("operator_id", op.ID.String()))

	// Read loop (keep alive / pings)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case view, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := h.send(conn, op, gate, view); err != nil {
				h.log.Debug("dashboard write failed", zap.String("operator_id", op.ID.String()), zap.Error(err))
				return
			}
		}
	}
}

func (h *WSHub) send(conn *websocket.Conn, op services.Operator, gate *auditGate, view models.CurrentLocationView) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()

	consent, err := h.consents.GetConsent(ctx, view.SubjectID)
	if err != nil {
		h.log.Warn("skipping location event, consent unavailable", zap.String("subject_id", view.SubjectID.String()), zap.Error(err))
		return nil
	}
	sample, ok := view.Sample.Redact(consent.EffectiveLevel())
	if !ok {
		return nil
	}
	view.Sample = sample

	event, err := events.NewLocationUpdated(view)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(event); err != nil {
		return err
	}

	if view.SubjectID != op.ID && gate.allow(view.SubjectID, time.Now()) {
		h.audit.Record(ctx, models.AuditEntry{
			OperatorID: op.ID,
			SubjectID:  view.SubjectID,
			Action:     models.AuditActionViewCurrent,
			Origin:     op.Origin,
		})
	}
	return nil
}

// auditGate coalesces view_current entries for one dashboard connection. It is
// only touched by the connection's write loop.
type auditGate struct {
	window time.Duration
	last   map[uuid.UUID]time.Time
}

func newAuditGate(window time.Duration) *auditGate {
	return &auditGate{window: window, last: make(map[uuid.UUID]time.Time)}
}

// allow reports whether a push of subjectID at now starts a new window.
func (g *auditGate) allow(subjectID uuid.UUID, now time.Time) bool {
	if g.window <= 0 {
		return true
	}
	if at, ok := g.last[subjectID]; ok && now.Sub(at) < g.window {
		return false
	}
	g.last[subjectID] = now
	return true
}
