package cron

import (
	"fmt"
	"io"
	"time"
)

// LogLevel gates how chatty the scheduler's logging is. Silent suppresses
// everything, including errors.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser selects the cron expression dialect. StandardParser accepts the
// five-field form; SecondsParser adds a leading seconds field.
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLocation sets the timezone cron expressions are evaluated in. The
// default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// WithLogger routes scheduler logging through logger instead of the built-in
// writer-backed one.
func WithLogger(logger Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithLogWriter points the built-in logger at writer. Ignored when WithLogger
// is also set.
func WithLogWriter(writer io.Writer) Option {
	return func(s *Scheduler) {
		s.logWriter = writer
	}
}

// WithLogLevel sets the logging threshold. The default logs errors only.
func WithLogLevel(level LogLevel) Option {
	return func(s *Scheduler) {
		s.logLevel = level
	}
}

// WithErrorHandler receives every error a scheduled job returns, including
// panics recovered inside the cron runner.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Scheduler) {
		s.errorHandler = handler
	}
}

// WithParser selects the cron expression dialect.
func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// loggerAdapter bridges the package Logger to robfig/cron's logger contract,
// applying the configured level threshold.
type loggerAdapter struct {
	logger Logger
	level  LogLevel
}

func (l *loggerAdapter) Info(msg string, args ...interface{}) {
	if l.level >= LogLevelInfo {
		l.logger.Info(msg, args...)
	}
}

func (l *loggerAdapter) Error(err error, msg string, args ...interface{}) {
	if l.level >= LogLevelError {
		if err != nil {
			l.logger.Error(fmt.Sprintf("%s: %v", fmt.Sprintf(msg, args...), err))
		} else {
			l.logger.Error(msg, args...)
		}
	}
}

// errorHandlerAdapter wraps the configured error handler in robfig/cron's
// logger shape so it can sit behind the panic-recovery wrapper. Info output
// is dropped.
type errorHandlerAdapter struct {
	handler func(error)
}

func (e *errorHandlerAdapter) Info(msg string, args ...interface{}) {}

func (e *errorHandlerAdapter) Error(err error, msg string, args ...interface{}) {
	if e.handler != nil {
		if err != nil {
			e.handler(err)
		} else {
			e.handler(fmt.Errorf(msg, args...))
		}
	}
}
