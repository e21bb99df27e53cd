package audit

import (
	"context"
	"log/slog"
)

// SlogSink writes audit events to a structured logger, one log record
// per event at INFO for allows and WARN for denials and incidents. In
// the standard deployment the logger is the process-wide JSON slog
// handler, so events land in the same stream log shippers already
// collect.
type SlogSink struct {
	logger *slog.Logger
}

var _ Sink = (*SlogSink)(nil)

// NewSlogSink creates a SlogSink. A nil logger uses [slog.Default].
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Record implements [Sink].
func (s *SlogSink) Record(ctx context.Context, event Event) {
	attrs := []any{
		"audit", true,
		"request_id", event.RequestID,
		"decision", string(event.Decision),
		"method", event.Method,
		"path", event.Path,
	}
	if event.Code != "" {
		attrs = append(attrs, "code", event.Code)
	}
	if event.AccountID != "" {
		attrs = append(attrs, "account_id", event.AccountID)
	}
	if event.Role != "" {
		attrs = append(attrs, "role", string(event.Role))
	}
	if event.IP != "" {
		attrs = append(attrs, "ip", event.IP)
	}
	if len(event.ThreatCategories) > 0 {
		attrs = append(attrs, "threat_categories", event.ThreatCategories)
	}
	if event.EmergencyAccess {
		attrs = append(attrs, "emergency_access", true)
	}
	for k, v := range event.Details {
		attrs = append(attrs, "detail_"+k, v)
	}

	switch event.Decision {
	case DecisionAllow:
		s.logger.InfoContext(ctx, "request allowed", attrs...)
	case DecisionIncident:
		s.logger.WarnContext(ctx, "security incident", attrs...)
	default:
		s.logger.WarnContext(ctx, "request denied", attrs...)
	}
}
