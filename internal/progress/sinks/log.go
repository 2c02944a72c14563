package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/urlharvest/internal/progress"
)

// LogSink renders crawl events as structured zap entries. The event level picks
// the zap level; worker, label and color hint travel as fields.
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
			zap.String("crawl_id", evt.CrawlID),
			zap.String("stage", string(evt.Stage)),
			zap.String("color", evt.ColorHint()),
			zap.Time("event_ts", evt.TS),
		}
		if evt.WorkerID > 0 {
			fields = append(fields, zap.Int("worker", evt.WorkerID))
		}
		if evt.Label != "" {
			fields = append(fields, zap.String("label", evt.Label))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if ce := s.logger.Check(zapLevel(evt.Level), evt.Message); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it flushes the logger.
func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	return nil
}

func zapLevel(level progress.Level) zapcore.Level {
	switch level {
	case progress.LevelWarning:
		return zapcore.WarnLevel
	case progress.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
