package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs2pdf/internal/progress"
)

// LogSink writes one debug line per event, and an info line per run
// milestone.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.logger.Info("run started", append(fields, zap.Int("pages", evt.Total))...)
		case progress.StageRunDone:
			s.logger.Info("run finished", append(fields, zap.Duration("dur", evt.Dur), zap.String("note", evt.Note))...)
		default:
			s.logger.Debug("progress event", append(fields,
				zap.String("url", evt.URL),
				zap.String("status", evt.Status),
				zap.Int("attempt", evt.Attempt),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
