package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// noCtx stands in for the context of the non-C log methods.
var noCtx = context.Background()

type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	appenders []Appender
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) IsDebugEnabled(ctx context.Context) bool {
	return imp.enabled(ctx, DEBUG)
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = imp.name + "." + subname
	}
	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.appenders {
		err = multierr.Combine(err, appender.Sync())
	}
	return err
}

// AsZap returns a zap logger that writes to the appenders of imp and follows its level.
func (imp *impl) AsZap() *zap.SugaredLogger {
	return zap.New(&appenderCore{imp: imp}, zap.AddCaller()).Sugar().Named(imp.name)
}

// enabled reports whether a line at level is written. A context in debug mode lets DEBUG lines
// through regardless of the level.
func (imp *impl) enabled(ctx context.Context, level Level) bool {
	return level >= imp.level.Get() || (level == DEBUG && IsDebugMode(ctx))
}

// The print helpers are called directly from the exported methods so getCaller always finds the
// user's frame at the same depth.

func (imp *impl) print(ctx context.Context, level Level, args []interface{}) {
	if imp.enabled(ctx, level) {
		imp.emit(level, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) printf(ctx context.Context, level Level, template string, args []interface{}) {
	if imp.enabled(ctx, level) {
		imp.emit(level, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) printw(ctx context.Context, level Level, msg string, keysAndValues []interface{}) {
	if imp.enabled(ctx, level) {
		imp.emit(level, msg, fieldsOf(keysAndValues))
	}
}

func (imp *impl) emit(level Level, msg string, fields []zapcore.Field) {
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     getCaller(),
	}
	imp.write(entry, fields)
}

func (imp *impl) write(entry zapcore.Entry, fields []zapcore.Field) {
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range imp.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// fieldsOf pairs up keys and values. Keys are stringified, values are json serialized by the
// appenders, so only public struct fields show up.
func fieldsOf(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		if i+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		} else {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
		}
	}
	return fields
}

func (imp *impl) Debug(args ...interface{}) { imp.print(noCtx, DEBUG, args) }

func (imp *impl) CDebug(ctx context.Context, args ...interface{}) { imp.print(ctx, DEBUG, args) }

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.printf(noCtx, DEBUG, template, args)
}

func (imp *impl) CDebugf(ctx context.Context, template string, args ...interface{}) {
	imp.printf(ctx, DEBUG, template, args)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.printw(noCtx, DEBUG, msg, keysAndValues)
}

func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.printw(ctx, DEBUG, msg, keysAndValues)
}

func (imp *impl) Info(args ...interface{}) { imp.print(noCtx, INFO, args) }

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.printf(noCtx, INFO, template, args)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.printw(noCtx, INFO, msg, keysAndValues)
}

func (imp *impl) Warn(args ...interface{}) { imp.print(noCtx, WARN, args) }

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.printf(noCtx, WARN, template, args)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.printw(noCtx, WARN, msg, keysAndValues)
}

func (imp *impl) Error(args ...interface{}) { imp.print(noCtx, ERROR, args) }

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.printf(noCtx, ERROR, template, args)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.printw(noCtx, ERROR, msg, keysAndValues)
}

// getCaller returns the frame that called the exported log method, e.g. "pio/pio.go:120".
func getCaller() zapcore.EntryCaller {
	// getCaller, emit, print helper, log method.
	const skipToLogCaller = 4
	var entryCaller zapcore.EntryCaller
	var ok bool
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true
	if fn := runtime.FuncForPC(entryCaller.PC); fn != nil {
		entryCaller.Function = fn.Name()
	}
	return entryCaller
}

// appenderCore lets zap loggers write through the appenders of an impl.
type appenderCore struct {
	imp    *impl
	fields []zapcore.Field
}

func (c *appenderCore) Enabled(level zapcore.Level) bool {
	return level >= c.imp.level.Get().AsZap()
}

func (c *appenderCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	return &appenderCore{imp: c.imp, fields: append(merged, fields...)}
}

func (c *appenderCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *appenderCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	c.imp.write(entry, append(all, fields...))
	return nil
}

func (c *appenderCore) Sync() error {
	return c.imp.Sync()
}
