// Package logging provides runtime.Logger implementations for code running
// outside Nakama.
package logging

import (
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/zap"
)

// ZapLogger implements runtime.Logger on top of a zap SugaredLogger.
type ZapLogger struct {
	sugar  *zap.SugaredLogger
	fields map[string]interface{}
}

// NewZap builds a production logger, or a development one when dev is set.
func NewZap(dev bool) (*ZapLogger, error) {
	var (
		base *zap.Logger
		err  error
	)
	if dev {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return FromZap(base), nil
}

// FromZap wraps an existing zap logger.
func FromZap(base *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: base.WithOptions(zap.AddCallerSkip(1)).Sugar(), fields: map[string]interface{}{}}
}

func (l *ZapLogger) Debug(format string, v ...interface{}) { l.sugar.Debugf(format, v...) }
func (l *ZapLogger) Info(format string, v ...interface{})  { l.sugar.Infof(format, v...) }
func (l *ZapLogger) Warn(format string, v ...interface{})  { l.sugar.Warnf(format, v...) }
func (l *ZapLogger) Error(format string, v ...interface{}) { l.sugar.Errorf(format, v...) }

func (l *ZapLogger) WithField(key string, v interface{}) runtime.Logger {
	return l.WithFields(map[string]interface{}{key: v})
}

func (l *ZapLogger) WithFields(fields map[string]interface{}) runtime.Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	args := make([]interface{}, 0, 2*len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
		args = append(args, k, v)
	}
	return &ZapLogger{sugar: l.sugar.With(args...), fields: merged}
}

func (l *ZapLogger) Fields() map[string]interface{} {
	return l.fields
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

// Nop is a runtime.Logger that discards everything.
func Nop() runtime.Logger {
	return FromZap(zap.NewNop())
}

var _ runtime.Logger = (*ZapLogger)(nil)
