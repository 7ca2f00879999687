package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/anaparv/anaparv-pep-project/internal/metrics"
	"github.com/anaparv/anaparv-pep-project/internal/util"
)

// Option configures AccountService and MessageService.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the time source used to stamp new messages.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// logAudit records a business event. A logger set with WithLogger wins over the
// request-scoped one so callers can route audit lines separately.
func (o options) logAudit(ctx context.Context, event string, attributes ...any) {
	logger := o.logger
	if logger == nil {
		logger = util.LoggerFromContext(ctx)
	} else if requestID := util.RequestIDFromContext(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}

func (o options) inc(pick func(*metrics.Metrics)) {
	if o.metrics != nil {
		pick(o.metrics)
	}
}
