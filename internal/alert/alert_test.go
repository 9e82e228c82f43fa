package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var sample = Event{
	Kind:      KindJobFailed,
	JobID:     "5c1f3a7e-2b6d-4c8e-9f01-23456789abcd",
	JobType:   "ingest_thumbnails",
	TargetKey: "videos/clip.mp4",
	Attempts:  5,
	Error:     "ffmpeg exited with status 1",
	At:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
}

type fakeAMQP struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (f *fakeAMQP) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

type fakeNATS struct {
	subject string
	data    []byte
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return nil
}

func TestAMQPAlerterRoutesByKindAndType(t *testing.T) {
	pub := &fakeAMQP{}
	a := &AMQPAlerter{ch: pub, exchange: "jobs.alerts"}

	if err := a.Alert(context.Background(), sample); err != nil {
		t.Fatalf("Alert returned error: %v", err)
	}
	if pub.exchange != "jobs.alerts" || pub.key != "job_failed.ingest_thumbnails" {
		t.Fatalf("published to %s/%s", pub.exchange, pub.key)
	}
	if pub.msg.ContentType != "application/json" || pub.msg.MessageId != sample.JobID {
		t.Fatalf("unexpected publishing: %+v", pub.msg)
	}
	var got Event
	if err := json.Unmarshal(pub.msg.Body, &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if got.JobID != sample.JobID || got.Error != sample.Error {
		t.Fatalf("body mismatch: %+v", got)
	}
}

func TestNATSAlerterSubject(t *testing.T) {
	pub := &fakeNATS{}
	a := &NATSAlerter{pub: pub, subject: "jobs.alerts"}

	if err := a.Alert(context.Background(), sample); err != nil {
		t.Fatalf("Alert returned error: %v", err)
	}
	if pub.subject != "jobs.alerts.job_failed" {
		t.Fatalf("subject = %q", pub.subject)
	}
	if !bytes.Contains(pub.data, []byte(`"target_key":"videos/clip.mp4"`)) {
		t.Fatalf("payload = %s", pub.data)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	broken := &AMQPAlerter{ch: &fakeAMQP{err: errors.New("channel closed")}, exchange: "x"}
	m := Multi{LogAlerter{Logger: zerolog.New(&buf)}, nil, broken, Nop{}}

	err := m.Alert(context.Background(), sample)
	if err == nil || !strings.Contains(err.Error(), "channel closed") {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if !strings.Contains(buf.String(), sample.JobID) {
		t.Fatalf("log sink did not run: %s", buf.String())
	}
}
