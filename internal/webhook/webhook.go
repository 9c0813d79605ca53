// Package webhook posts detector events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/event"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/version"
)

// Subscriber is the part of event.Bus the notifier needs.
type Subscriber interface {
	Subscribe(topic string, handler event.Handler) (unsubscribe func())
}

// Config holds the webhook settings under the "webhook" key.
type Config struct {
	URL     string
	Timeout time.Duration
	Topics  []string
}

// DefaultTopics are delivered when Config.Topics is empty.
var DefaultTopics = []string{event.TopicZoneImpact}

// Notifier delivers bus events as JSON POSTs.
type Notifier struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client
	unsub  []func()
}

// New creates a Notifier. A zero timeout means 10s.
func New(cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = DefaultTopics
	}
	return &Notifier{
		logger: logger,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Subscribe registers the notifier on bus for its configured topics.
func (n *Notifier) Subscribe(bus Subscriber) {
	if n.cfg.URL == "" {
		n.logger.Warn("webhook URL not configured; notifications will be dropped",
			zap.String("component", "webhook"),
		)
		return
	}
	for _, topic := range n.cfg.Topics {
		n.unsub = append(n.unsub, bus.Subscribe(topic, n.handleEvent))
	}
	n.logger.Info("webhook notifier subscribed",
		zap.String("url", n.cfg.URL),
		zap.Strings("topics", n.cfg.Topics),
		zap.Duration("timeout", n.cfg.Timeout),
	)
}

// Close unsubscribes from the bus.
func (n *Notifier) Close() {
	for _, u := range n.unsub {
		u()
	}
	n.unsub = nil
}

// WebhookPayload is the JSON body sent to the webhook URL.
type WebhookPayload struct {
	Event     string `json:"event"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

func (n *Notifier) handleEvent(ctx context.Context, e event.Event) {
	if n.cfg.URL == "" {
		return
	}

	payload := WebhookPayload{
		Event:     e.Topic,
		Source:    e.Source,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Data:      e.Payload,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal webhook payload",
			zap.String("topic", e.Topic),
			zap.Error(err),
		)
		return
	}

	n.send(ctx, body, e.Topic)
}

func (n *Notifier) send(ctx context.Context, body []byte, topic string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to create webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "azwatch-webhook/"+version.Short())

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			zap.String("url", n.cfg.URL),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook endpoint returned error",
			zap.String("url", n.cfg.URL),
			zap.String("topic", topic),
			zap.Int("status_code", resp.StatusCode),
		)
		return
	}

	n.logger.Debug("webhook delivered",
		zap.String("topic", topic),
		zap.Int("status_code", resp.StatusCode),
	)
}
