// Package remote carries outlier scoring over NATS request/reply.
//
// Client implements outlier.ScoreProvider by sending a JSON Request to a
// subject; Serve answers those requests with any local provider.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/outlier"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// DefaultSubject is the request subject used when none is configured.
const DefaultSubject = "azwatch.outlier.score"

// Request is the wire form of a score call.
type Request struct {
	Algorithm outlier.Algorithm   `json:"algorithm"`
	Values    []outlier.ZoneValue `json:"values"`
}

// Response is the wire form of a score result. Error is set instead of
// Scores when the scorer rejected the request.
type Response struct {
	Scores map[models.ZoneID]Score `json:"scores,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// Score is outlier.Score with infinities carried as the strings "+Inf" and
// "-Inf", which plain JSON numbers cannot represent.
type Score outlier.Score

type wireScore struct {
	Value    json.RawMessage `json:"value"`
	Eligible bool            `json:"eligible"`
}

// MarshalJSON implements json.Marshaler.
func (s Score) MarshalJSON() ([]byte, error) {
	var v []byte
	switch {
	case math.IsInf(s.Value, 1):
		v = []byte(`"+Inf"`)
	case math.IsInf(s.Value, -1):
		v = []byte(`"-Inf"`)
	default:
		var err error
		if v, err = json.Marshal(s.Value); err != nil {
			return nil, err
		}
	}
	return json.Marshal(wireScore{Value: v, Eligible: s.Eligible})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Score) UnmarshalJSON(b []byte) error {
	var w wireScore
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s.Eligible = w.Eligible
	switch string(w.Value) {
	case `"+Inf"`:
		s.Value = math.Inf(1)
	case `"-Inf"`:
		s.Value = math.Inf(-1)
	default:
		return json.Unmarshal(w.Value, &s.Value)
	}
	return nil
}

// Requester is the subset of *nats.Conn used by Client.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Client is a ScoreProvider backed by a remote scorer.
type Client struct {
	req     Requester
	subject string
	conn    *nats.Conn
}

var _ outlier.ScoreProvider = (*Client)(nil)

// NewClient wraps an existing requester.
func NewClient(req Requester, subject string) *Client {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Client{req: req, subject: subject}
}

// Connect dials NATS and returns a Client that owns the connection.
func Connect(url, subject string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("azwatch-detector"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	c := NewClient(conn, subject)
	c.conn = conn
	return c, nil
}

// Close drains the owned connection, if any.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Drain()
		c.conn.Close()
	}
}

// Score implements outlier.ScoreProvider. The caller's context bounds the
// round trip; a deadline or NATS timeout is reported as ErrProviderTimeout.
func (c *Client) Score(ctx context.Context, alg outlier.Algorithm, values []outlier.ZoneValue) (map[models.ZoneID]outlier.Score, error) {
	data, err := json.Marshal(Request{Algorithm: alg, Values: values})
	if err != nil {
		return nil, fmt.Errorf("encode score request: %w", err)
	}
	msg, err := c.req.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request %s: %w", c.subject, azerr.ErrProviderTimeout)
		}
		return nil, fmt.Errorf("request %s: %w", c.subject, err)
	}
	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("remote scorer: %s", resp.Error)
	}
	out := make(map[models.ZoneID]outlier.Score, len(resp.Scores))
	for z, sc := range resp.Scores {
		out[z] = outlier.Score(sc)
	}
	return out, nil
}

// Handle answers one encoded Request with provider and returns the encoded
// Response.
func Handle(ctx context.Context, provider outlier.ScoreProvider, data []byte) []byte {
	var req Request
	var resp Response
	if err := json.Unmarshal(data, &req); err != nil {
		resp.Error = "invalid request: " + err.Error()
	} else if scores, err := provider.Score(ctx, req.Algorithm, req.Values); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Scores = make(map[models.ZoneID]Score, len(scores))
		for z, sc := range scores {
			resp.Scores[z] = Score(sc)
		}
	}
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(Response{Error: "encode response: " + err.Error()})
	}
	return out
}

// Serve subscribes provider to subject in a queue group so several scorers
// can share the load.
func Serve(conn *nats.Conn, subject, queue string, provider outlier.ScoreProvider, logger *zap.Logger) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		reply := Handle(context.Background(), provider, msg.Data)
		if err := msg.Respond(reply); err != nil {
			logger.Warn("score reply failed", zap.String("subject", subject), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	logger.Info("serving outlier scores", zap.String("subject", subject), zap.String("queue", queue))
	return sub, nil
}
