package eventbus

import (
	"github.com/krobus00/order-executor/internal/entity"
	"github.com/sirupsen/logrus"
)

// LogrusSink writes every order event as a structured log line.
type LogrusSink struct {
	logger *logrus.Logger
}

func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{logger: logger}
}

func (s *LogrusSink) OnEvent(event entity.OrderEvent) {
	fields := logrus.Fields{
		"orderID": event.OrderID,
		"venueID": event.VenueID,
		"symbol":  event.Symbol,
		"side":    event.Side,
		"state":   event.State,
	}
	if event.LatencyMs != nil {
		fields["latencyMs"] = *event.LatencyMs
	}
	if event.FillPrice != nil {
		fields["fillPrice"] = event.FillPrice.String()
	}
	if event.FillQty != nil {
		fields["fillQty"] = event.FillQty.String()
	}

	entry := s.logger.WithFields(fields)
	switch event.State {
	case entity.OrderStateFailed, entity.OrderStateTimedOut:
		entry.Warn(event.EventName)
	default:
		entry.Info(event.EventName)
	}
}
