package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ballotd/apiserver/types"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const attrEventType = "event_type"

// Events publishes election events on one channel. Publishing goes through
// a circuit breaker so a failing broker is skipped quickly instead of
// slowing every request down.
type Events struct {
	backend Backend
	channel string
	cb      *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
}

func NewEvents(backend Backend, channel string, log logrus.FieldLogger) *Events {
	st := gobreaker.Settings{
		Name:        "events-" + channel,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("CircuitBreaker[%s] state changed from %s to %s", name, from, to)
		},
	}
	return &Events{
		backend: backend,
		channel: channel,
		cb:      gobreaker.NewCircuitBreaker(st),
		log:     log,
	}
}

// Publish encodes event as JSON and sends it to the channel.
func (e *Events) Publish(ctx context.Context, event types.ElectionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	attrs := map[string]string{attrEventType: event.Type}

	id, err := e.cb.Execute(func() (interface{}, error) {
		return e.backend.Publish(ctx, e.channel, data, attrs)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("events broker unavailable: %w", err)
		}
		return err
	}

	e.log.WithFields(logrus.Fields{
		"event":       event.Type,
		"election_id": event.ElectionID,
		"message_id":  id,
	}).Debug("election event published")
	return nil
}

// Watch delivers decoded events to fn until ctx ends. Messages that are not
// election events are acknowledged and skipped.
func (e *Events) Watch(ctx context.Context, fn func(ctx context.Context, event types.ElectionEvent) error) error {
	return e.backend.Subscribe(ctx, e.channel, func(ctx context.Context, msg Message) error {
		var event types.ElectionEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			e.log.WithError(err).WithField("message_id", msg.ID).Warn("skipping malformed event")
			return nil
		}
		return fn(ctx, event)
	})
}

func (e *Events) Close() error {
	return e.backend.Close()
}
