package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/krobus00/order-executor/internal/constant"
	"github.com/krobus00/order-executor/internal/entity"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const natsPublishMaxElapsed = 5 * time.Second

// NatsSink publishes every order event to a JetStream subject so other
// services can consume the execution feed.
type NatsSink struct {
	js nats.JetStreamContext
}

func NewNatsSink(js nats.JetStreamContext) *NatsSink {
	return &NatsSink{js: js}
}

func (s *NatsSink) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      constant.OrderEventStreamName,
		Subjects:  []string{constant.OrderEventStreamSubjectAll},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	}

	stream, err := s.js.StreamInfo(constant.OrderEventStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.OrderEventStreamName)
		_, err = s.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.OrderEventStreamName)
	_, err = s.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

func (s *NatsSink) OnEvent(event entity.OrderEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logrus.Errorf("failed to marshal order event: %v", err)
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = natsPublishMaxElapsed
	err = backoff.Retry(func() error {
		_, err := s.js.Publish(constant.OrderEventStreamSubject, payload)
		return err
	}, bo)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"event":   event.EventName,
			"orderID": event.OrderID,
		}).Errorf("failed to publish order event: %v", err)
	}
}
