package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/krobus00/order-executor/internal/entity"
	"github.com/sirupsen/logrus"
)

// Notifier delivers a human-readable message to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// TelegramSink buffers order events and renders a batch summary on
// flush: a header with per-outcome counts followed by one line per
// buffered event.
type TelegramSink struct {
	notifier Notifier

	mu     sync.Mutex
	events []entity.OrderEvent
}

func NewTelegramSink(notifier Notifier) *TelegramSink {
	return &TelegramSink{notifier: notifier}
}

func (s *TelegramSink) OnEvent(event entity.OrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// FlushSummary renders the buffered events and clears the buffer. It
// returns an empty string when nothing happened since the last flush.
// Only terminal states count toward the header; every buffered event
// gets its own line.
func (s *TelegramSink) FlushSummary() string {
	s.mu.Lock()
	events := s.events
	s.events = nil
	s.mu.Unlock()

	if len(events) == 0 {
		return ""
	}

	var filled, timeout, rejected, orphaned int
	for _, event := range events {
		switch event.State {
		case entity.OrderStateFilled:
			filled++
		case entity.OrderStateTimedOut:
			timeout++
		case entity.OrderStateFailed:
			rejected++
		case entity.OrderStateCancelled:
			orphaned++
		}
	}

	lines := make([]string, 0, len(events)+3)
	lines = append(lines,
		"=== Order Batch Summary ===",
		fmt.Sprintf("filled: %d  timeout: %d  rejected: %d  orphaned: %d", filled, timeout, rejected, orphaned),
		"",
	)
	for _, event := range events {
		var fillInfo string
		if event.FillPrice != nil && event.FillQty != nil {
			fillInfo = fmt.Sprintf(" fill=%s@%s", event.FillQty.String(), event.FillPrice.String())
		}
		var latencyInfo string
		if event.LatencyMs != nil {
			latencyInfo = fmt.Sprintf(" latency=%dms", *event.LatencyMs)
		}
		lines = append(lines, fmt.Sprintf("[%s] %s %s order=%s%s%s",
			event.State, event.Symbol, event.Side, event.OrderID, fillInfo, latencyInfo))
	}
	return strings.Join(lines, "\n")
}

// NotifySummary flushes the buffer and sends the summary through the
// notifier. A flush with no buffered events sends nothing.
func (s *TelegramSink) NotifySummary(ctx context.Context) error {
	summary := s.FlushSummary()
	if summary == "" {
		return nil
	}
	if s.notifier == nil {
		logrus.Info(summary)
		return nil
	}
	return s.notifier.Notify(ctx, summary)
}
