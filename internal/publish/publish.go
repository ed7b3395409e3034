// Package publish announces executed actions to downstream systems of
// record over NATS.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

// DefaultSubjectPrefix is the subject root for execution events.
const DefaultSubjectPrefix = "pulse.execution"

// Event is the message body published for each executed draft.
type Event struct {
	RunID     string                `json:"runId"`
	UserID    string                `json:"userId"`
	SignalID  string                `json:"signalId"`
	Draft     state.Draft           `json:"draft"`
	Result    state.ExecutionResult `json:"result"`
	Published time.Time             `json:"publishedAt"`
}

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends execution events.
type Publisher interface {
	PublishExecution(ctx context.Context, ev Event) error
}

// NATSPublisher publishes events on <prefix>.<userID>.
type NATSPublisher struct {
	conn   Conn
	prefix string
}

// NewNATSPublisher wraps an existing connection. An empty prefix uses
// DefaultSubjectPrefix.
func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Connect dials a NATS server with reconnect settings suitable for a
// long-running process.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		return nil, errors.New("nats url is empty")
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Subject returns the subject an event for userID is published on.
func (p *NATSPublisher) Subject(userID string) string {
	return p.prefix + "." + subjectToken(userID)
}

// PublishExecution encodes ev and publishes it. NATS core publish does not
// take a context, so ctx is checked before sending.
func (p *NATSPublisher) PublishExecution(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	if ev.Published.IsZero() {
		ev.Published = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal execution event: %w", err)
	}
	subject := p.Subject(ev.UserID)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// subjectToken makes s safe as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
