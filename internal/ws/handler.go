// Package ws streams detector events to WebSocket clients.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/event"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/isolation"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// Subscriber is the part of event.Bus the handler needs.
type Subscriber interface {
	Subscribe(topic string, handler event.Handler) (unsubscribe func())
}

// Handler provides the WebSocket event stream.
type Handler struct {
	hub     *Hub
	origins []string
	logger  *zap.Logger
	unsub   []func()
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to detector events.
// origins are host patterns accepted in addition to same-origin requests.
func NewHandler(bus Subscriber, origins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		hub:     NewHub(logger),
		origins: origins,
		logger:  logger,
	}
	h.subscribeToEvents(bus)
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/events", h.handleEventStream)
}

// Close unsubscribes from the bus.
func (h *Handler) Close() {
	for _, u := range h.unsub {
		u()
	}
	h.unsub = nil
}

// handleEventStream upgrades the connection and streams detector events.
// An optional zone query parameter limits zone-scoped messages to one zone.
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	// The stream outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		remote: r.RemoteAddr,
		zone:   models.ZoneID(r.URL.Query().Get("zone")),
		send:   make(chan Message, 256),
		logger: h.logger,
	}

	h.hub.Register(client)

	// Run read and write pumps. When either exits, clean up.
	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until client disconnects.
	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// subscribeToEvents forwards detector events to connected clients.
func (h *Handler) subscribeToEvents(bus Subscriber) {
	if bus == nil {
		return
	}

	h.unsub = append(h.unsub, bus.Subscribe(event.TopicAlarmTransition, func(_ context.Context, e event.Event) {
		t, ok := e.Payload.(alarm.Transition)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageAlarmTransition,
			Zone:      t.Config.Zone,
			Timestamp: e.Timestamp,
			Data:      AlarmTransitionData(t),
		})
	}))

	h.unsub = append(h.unsub, bus.Subscribe(event.TopicZoneImpact, func(_ context.Context, e event.Event) {
		z, ok := e.Payload.(isolation.ZoneImpactEvent)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageZoneImpact,
			Zone:      z.Zone,
			Timestamp: e.Timestamp,
			Data:      ZoneImpactData(z),
		})
	}))

	h.unsub = append(h.unsub, bus.Subscribe(event.TopicTickDegraded, func(_ context.Context, e event.Event) {
		samples, ok := e.Payload.([]isolation.DegradedSample)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageTickDegraded,
			Timestamp: e.Timestamp,
			Data:      TickDegradedData{Samples: samples},
		})
	}))

	h.logger.Info("subscribed to detector events for WebSocket broadcasting")
}
