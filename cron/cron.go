package cron

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Logger is the subset of the root package logger the scheduler needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Updater is satisfied by machine instances whose update callbacks should run
// on a schedule.
type Updater interface {
	Update(args ...any) error
}

// Firer is satisfied by machine instances that accept events of type E.
type Firer[E comparable] interface {
	Fire(event E, args ...any) error
}

// Scheduler drives periodic machine updates and timed event dispatch on top
// of robfig/cron.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	errorHandler func(error)

	logger    Logger
	parser    Parser
	logWriter io.Writer
	logLevel  LogLevel

	nextHandleID int64
	handles      map[int64]*scheduleHandle
}

// NewScheduler creates a scheduler with the provided options.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		errorHandler: func(err error) {
			log.Printf("error: %v\n", err)
		},
		handles: make(map[int64]*scheduleHandle),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.cron = rcron.New(s.build()...)
	return s
}

func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// ScheduleFunc schedules a recurring job by cron expression.
func (s *Scheduler) ScheduleFunc(expression string, job func() error) (Handle, error) {
	if expression == "" {
		return nil, fmt.Errorf("cron expression cannot be empty")
	}
	if job == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}

	sub := s.newHandle()
	wrapped := rcron.FuncJob(func() {
		if isTerminalStatus(sub.Status()) {
			return
		}

		sub.setStatus(ScheduleStatusRunning, nil)
		if err := job(); err != nil {
			sub.setStatus(ScheduleStatusFailed, err)
			s.errorHandler(err)
			return
		}

		if !isTerminalStatus(sub.Status()) {
			sub.setStatus(ScheduleStatusIdle, nil)
		}
	})

	entryID, err := s.cron.AddJob(expression, wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to add job: %w", err)
	}
	sub.entryID = int(entryID)
	s.storeHandle(sub)
	return sub, nil
}

// ScheduleEvery schedules a recurring job at a fixed interval.
func (s *Scheduler) ScheduleEvery(interval time.Duration, job func() error) (Handle, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	return s.ScheduleFunc(fmt.Sprintf("@every %s", interval), job)
}

// ScheduleUpdates ticks the instance's update chain on the given cron
// expression. Args are forwarded to every update callback.
func (s *Scheduler) ScheduleUpdates(expression string, inst Updater, args ...any) (Handle, error) {
	if inst == nil {
		return nil, fmt.Errorf("instance cannot be nil")
	}
	return s.ScheduleFunc(expression, func() error {
		return inst.Update(args...)
	})
}

// ScheduleEvent fires event against the instance on the given cron
// expression.
func ScheduleEvent[E comparable](s *Scheduler, expression string, inst Firer[E], event E, args ...any) (Handle, error) {
	if s == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if inst == nil {
		return nil, fmt.Errorf("instance cannot be nil")
	}
	return s.ScheduleFunc(expression, func() error {
		return inst.Fire(event, args...)
	})
}

// ScheduleAfter schedules one execution after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, job func() error) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), job)
}

// ScheduleAt schedules one execution at a specific time.
func (s *Scheduler) ScheduleAt(at time.Time, job func() error) (Handle, error) {
	if job == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}

	sub := s.newHandle()
	s.storeHandle(sub)

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-sub.Done():
			return
		}

		if isTerminalStatus(sub.Status()) {
			return
		}
		sub.setStatus(ScheduleStatusRunning, nil)
		if err := job(); err != nil {
			sub.setTerminal(ScheduleStatusFailed, err)
			s.errorHandler(err)
			s.removeStoredHandle(sub.id)
			return
		}
		sub.setTerminal(ScheduleStatusCompleted, nil)
		s.removeStoredHandle(sub.id)
	}()

	return sub, nil
}

// FireAfter fires event against the instance once after delay.
func FireAfter[E comparable](s *Scheduler, delay time.Duration, inst Firer[E], event E, args ...any) (Handle, error) {
	if s == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if inst == nil {
		return nil, fmt.Errorf("instance cannot be nil")
	}
	return s.ScheduleAfter(delay, func() error {
		return inst.Fire(event, args...)
	})
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops executing scheduled jobs and marks active handles as stopped.
func (s *Scheduler) Stop(_ context.Context) error {
	s.cron.Stop()

	var handles []*scheduleHandle
	s.mu.Lock()
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[int64]*scheduleHandle)
	s.mu.Unlock()

	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		if isTerminalStatus(handle.Status()) {
			continue
		}
		handle.setTerminal(ScheduleStatusStopped, nil)
	}
	return nil
}

func (s *Scheduler) removeHandle(id int64) {
	handle := s.removeStoredHandle(id)
	if handle == nil {
		return
	}
	if handle.entryID > 0 {
		s.cron.Remove(rcron.EntryID(handle.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *scheduleHandle {
	if s == nil || id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.handles[id]
	delete(s.handles, id)
	return handle
}

func (s *Scheduler) storeHandle(handle *scheduleHandle) {
	if s == nil || handle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles == nil {
		s.handles = make(map[int64]*scheduleHandle)
	}
	s.handles[handle.id] = handle
}

func (s *Scheduler) newHandle() *scheduleHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &scheduleHandle{
		scheduler: s,
		id:        s.nextHandleID,
		status:    ScheduleStatusScheduled,
		done:      make(chan struct{}),
	}
}

func isTerminalStatus(status ScheduleStatus) bool {
	switch status {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}

func makeLogger(out io.Writer, level LogLevel) rcron.Logger {
	stdLogger := log.New(out, "cron: ", log.LstdFlags)
	cronLogger := rcron.PrintfLogger(stdLogger)
	if level >= LogLevelDebug {
		cronLogger = rcron.VerbosePrintfLogger(stdLogger)
	}
	return cronLogger
}

// build converts implementation-agnostic options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	if s.errorHandler != nil {
		opts = append(opts, rcron.WithChain(
			rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}),
		))
	}

	var cronLogger rcron.Logger
	switch {
	case s.logger != nil:
		cronLogger = &loggerAdapter{logger: s.logger, level: s.logLevel}
	case s.logWriter != nil:
		cronLogger = makeLogger(s.logWriter, s.logLevel)
	default:
		if s.logLevel > LogLevelSilent {
			cronLogger = makeLogger(os.Stdout, s.logLevel)
		}
	}

	if cronLogger != nil {
		opts = append(opts, rcron.WithLogger(cronLogger))
	}

	return opts
}
