package executor

import (
	"errors"

	"github.com/krobus00/order-executor/internal/entity"
)

// Severity classifies a venue rejection into retryable or not.
type Severity int

const (
	// SeverityTransient marks rejections worth retrying, such as rate
	// limits and transport failures.
	SeverityTransient Severity = iota
	// SeverityFatal marks rejections that retrying cannot fix, such as
	// insufficient funds or an unknown symbol.
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "transient"
}

// ClassifyRejection maps a venue error to a severity. Unknown errors
// default to transient so a flaky venue message never permanently
// fails an order that could still go through.
func ClassifyRejection(err error) Severity {
	switch {
	case errors.Is(err, entity.ErrInsufficientFunds),
		errors.Is(err, entity.ErrUnknownSymbol):
		return SeverityFatal
	case errors.Is(err, entity.ErrRateLimited):
		return SeverityTransient
	}
	var verr *entity.ValidationError
	if errors.As(err, &verr) {
		return SeverityFatal
	}
	return SeverityTransient
}
