// Package events publishes run outcomes to NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/yangwenmai/pagesmith/internal/model"
)

// Publisher sends run records to subjects under a common prefix.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

// Connect dials url and returns a Publisher for subjects under prefix.
func Connect(url, prefix string, opts ...nats.Option) (*Publisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: nc, prefix: strings.TrimSuffix(prefix, ".")}, nil
}

// Subject returns the subject a run with the given status is published on,
// e.g. "pagesmith.runs.succeeded".
func Subject(prefix, status string) string {
	return strings.TrimSuffix(prefix, ".") + "." + strings.ToLower(status)
}

// PublishRun encodes r as JSON and publishes it.
func (p *Publisher) PublishRun(ctx context.Context, r model.Run) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return p.conn.Publish(Subject(p.prefix, r.Status), data)
}

// Connected reports whether the connection to the server is up.
func (p *Publisher) Connected() bool {
	return p != nil && p.conn.IsConnected()
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
