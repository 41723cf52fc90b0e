package publisher

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/bearing-technology/routing-backend/internal/metrics"
)

// Publisher wraps a NATS connection and publishes routing lifecycle events.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	service string
}

// New creates a new Publisher with JetStream enabled.
func New(nc *nats.Conn, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		service: service,
	}, nil
}

// Publish serializes and publishes a JSON payload to the subject.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"source":       []string{p.service},
			"content_type": []string{"application/json"},
		},
	}

	if _, err := p.js.PublishMsg(msg); err != nil {
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
