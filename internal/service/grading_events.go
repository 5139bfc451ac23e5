package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// GradingEvent announces that a submission reached a terminal grading state.
// It never carries the prompt or raw provider output.
type GradingEvent struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Status       string    `json:"status"`
	Score        *int      `json:"score,omitempty"`
	Attempt      int       `json:"attempt"`
	At           time.Time `json:"at"`
}

// EventPublisher fans terminal outcomes out to interested services.
type EventPublisher interface {
	Publish(ctx context.Context, event GradingEvent) error
}

// eventSink is one transport an event is fanned out to.
type eventSink interface {
	name() string
	send(ctx context.Context, event GradingEvent, payload []byte) error
}

type redisSink struct {
	client  *redis.Client
	channel string
}

func (s redisSink) name() string { return "redis" }

func (s redisSink) send(ctx context.Context, _ GradingEvent, payload []byte) error {
	return s.client.Publish(ctx, s.channel, payload).Err()
}

type natsSink struct {
	conn    *nats.Conn
	subject string
}

func (s natsSink) name() string { return "nats" }

func (s natsSink) send(_ context.Context, event GradingEvent, payload []byte) error {
	return s.conn.Publish(s.subject+"."+event.Status, payload)
}

type gradingEventPublisher struct {
	sinks []eventSink
}

// NewGradingEventPublisher publishes on <channelBase>:grading over Redis and
// <channelBase>.grading.<status> over NATS. Either transport may be nil.
func NewGradingEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string) EventPublisher {
	if channelBase == "" || (redisClient == nil && natsConn == nil) {
		return NopEventPublisher{}
	}

	publisher := &gradingEventPublisher{}
	if redisClient != nil {
		publisher.sinks = append(publisher.sinks, redisSink{client: redisClient, channel: channelBase + ":grading"})
	}
	if natsConn != nil {
		subject := strings.ReplaceAll(channelBase, ":", ".") + ".grading"
		publisher.sinks = append(publisher.sinks, natsSink{conn: natsConn, subject: subject})
	}
	return publisher
}

// Publish delivers to every transport; a failing one does not silence the others.
func (p *gradingEventPublisher) Publish(ctx context.Context, event GradingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var errs []error
	for _, sink := range p.sinks {
		if err := sink.send(ctx, event, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish via %s: %w", sink.name(), err))
		}
	}
	return errors.Join(errs...)
}

// NopEventPublisher discards events.
type NopEventPublisher struct{}

// Publish implements EventPublisher.
func (NopEventPublisher) Publish(context.Context, GradingEvent) error { return nil }
