package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSAlerter publishes events on "<subject>.<kind>".
type NATSAlerter struct {
	nc      *nats.Conn
	pub     natsPublisher
	subject string
}

func DialNATS(url, subject string) (*NATSAlerter, error) {
	nc, err := nats.Connect(url,
		nats.Name("mediaqueue-alerts"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSAlerter{nc: nc, pub: nc, subject: subject}, nil
}

func (a *NATSAlerter) Alert(_ context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return a.pub.Publish(a.subject+"."+string(ev.Kind), body)
}

// Close flushes buffered messages before disconnecting.
func (a *NATSAlerter) Close() error {
	if a.nc == nil {
		return nil
	}
	return a.nc.Drain()
}
