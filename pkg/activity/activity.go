// Package activity provides the write-only audit sink called after
// successful transitions. Logging is best-effort: a failed write is
// reported through the logger and never propagated, so it cannot roll
// back a transition.
package activity

import (
	"context"
	"log/slog"

	"github.com/corrugo/prodflow/pkg/core"
)

// Sink records activity entries.
type Sink struct {
	storage core.Storage
	logger  *slog.Logger
}

// NewSink creates a Sink writing through the given storage.
func NewSink(storage core.Storage, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{storage: storage, logger: logger}
}

// Record writes one audit entry, swallowing any storage error.
func (s *Sink) Record(ctx context.Context, entry *core.ActivityLog) {
	if err := s.storage.LogActivity(ctx, entry); err != nil {
		s.logger.Warn("failed to write activity log",
			"job", entry.NrcJobNo, "step", entry.StepName, "error", err)
	}
}
