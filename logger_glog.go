package pipeline

import (
	"context"

	"github.com/goliatone/go-logger/glog"
)

// GlogAdapter bridges a go-logger instance to the pipeline Logger contract.
type GlogAdapter struct {
	logger glog.Logger
}

// NewGlogAdapter wraps a go-logger logger; a nil logger yields the
// FmtLogger fallback behavior through NormalizeLogger at the call sites.
func NewGlogAdapter(logger glog.Logger) *GlogAdapter {
	return &GlogAdapter{logger: logger}
}

func (l *GlogAdapter) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l *GlogAdapter) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *GlogAdapter) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *GlogAdapter) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *GlogAdapter) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *GlogAdapter) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l *GlogAdapter) WithContext(ctx context.Context) Logger {
	if l == nil || l.logger == nil {
		return NewFmtLogger(nil).WithContext(ctx)
	}
	return &GlogAdapter{logger: l.logger.WithContext(ctx)}
}

// WithFields attaches structured fields when the underlying logger
// supports them.
func (l *GlogAdapter) WithFields(fields map[string]any) Logger {
	if l == nil || l.logger == nil {
		return NewFmtLogger(nil).WithFields(fields)
	}
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return &GlogAdapter{logger: fl.WithFields(fields)}
	}
	return l
}
