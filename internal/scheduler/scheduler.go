// Package scheduler drives the periodic refresh. It ticks fast while any
// surface is visible and slowly otherwise.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/helloworlde/meshkeeper/internal/logger"
)

type Mode string

const (
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
)

// ModeFor maps UI visibility to a polling mode.
func ModeFor(popoverOpen, windowVisible bool) Mode {
	if popoverOpen || windowVisible {
		return ModeForeground
	}
	return ModeBackground
}

// TickFunc is the refresh routine. The next tick is scheduled only after it
// returns.
type TickFunc func(ctx context.Context)

type Options struct {
	Foreground time.Duration
	Background time.Duration
	Mode       Mode
	Tick       TickFunc
	Logger     logger.Logger
}

type Scheduler struct {
	tick TickFunc
	log  logger.Logger

	mu       sync.Mutex
	fg, bg   time.Duration
	mode     Mode
	lastTick time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	rearm    chan struct{}
}

func New(opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeBackground
	}
	fg, bg := opts.Foreground, opts.Background
	if fg <= 0 {
		fg = 15 * time.Second
	}
	if bg <= 0 {
		bg = 5 * time.Minute
	}
	return &Scheduler{
		tick:  opts.Tick,
		log:   log.With("component", "scheduler"),
		fg:    fg,
		bg:    bg,
		mode:  mode,
		rearm: make(chan struct{}, 1),
	}
}

// Start launches the loop and fires the first tick right away. It returns
// false when the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Infof("started in %s mode (every %s)", s.mode, s.intervalLocked())
	return true
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) SetMode(m Mode) {
	s.mu.Lock()
	if s.mode == m {
		s.mu.Unlock()
		return
	}
	s.mode = m
	interval := s.intervalLocked()
	s.mu.Unlock()
	s.log.Debugf("mode %s, interval %s", m, interval)
	s.signal()
}

func (s *Scheduler) SetVisibility(popoverOpen, windowVisible bool) {
	s.SetMode(ModeFor(popoverOpen, windowVisible))
}

func (s *Scheduler) UpdateIntervals(foreground, background time.Duration) {
	s.mu.Lock()
	if foreground > 0 {
		s.fg = foreground
	}
	if background > 0 {
		s.bg = background
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervalLocked()
}

func (s *Scheduler) intervalLocked() time.Duration {
	if s.mode == ModeForeground {
		return s.fg
	}
	return s.bg
}

func (s *Scheduler) signal() {
	select {
	case s.rearm <- struct{}{}:
	default:
	}
}

// wait is the time left until the next tick, measured from the end of the
// previous one.
func (s *Scheduler) wait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := time.Until(s.lastTick.Add(s.intervalLocked()))
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.fire(ctx)
	for {
		timer := time.NewTimer(s.wait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.rearm:
			timer.Stop()
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.tick != nil {
		s.tick(ctx)
	}
	s.mu.Lock()
	s.lastTick = time.Now()
	s.mu.Unlock()
}
