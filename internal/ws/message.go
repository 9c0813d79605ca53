package ws

import (
	"time"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/isolation"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageAlarmTransition MessageType = "alarm.transition"
	MessageZoneImpact      MessageType = "zone.impact"
	MessageTickDegraded    MessageType = "tick.degraded"
)

// Message is the envelope for all WebSocket messages. Zone is empty for
// messages that are not about a single zone.
type Message struct {
	Type      MessageType   `json:"type"`
	Zone      models.ZoneID `json:"zone,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Data      any           `json:"data"`
}

// AlarmTransitionData is the payload for alarm.transition messages.
type AlarmTransitionData = alarm.Transition

// ZoneImpactData is the payload for zone.impact messages.
type ZoneImpactData = isolation.ZoneImpactEvent

// TickDegradedData is the payload for tick.degraded messages.
type TickDegradedData struct {
	Samples []isolation.DegradedSample `json:"samples"`
}
