// Package throughput measures the local interface rate from kernel byte
// counters. It backs the realtime summary when the cloud reports no client
// telemetry.
package throughput

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/internal/probe"
)

type Options struct {
	ProcRoot string
	// Interface is sampled when set; otherwise the default route's
	// interface is used.
	Interface string
	Interval  time.Duration
	Smoothing float64
	History   int
	OnSample  func(models.ThroughputSample)
	Logger    logger.Logger
	Now       func() time.Time
}

type Sampler struct {
	procRoot string
	iface    string
	interval time.Duration
	alpha    float64
	onSample func(models.ThroughputSample)
	log      logger.Logger
	now      func() time.Time
	history  *History[models.ThroughputSample]

	mu       sync.Mutex
	prev     *CounterSample
	prevIfc  string
	down, up *float64
}

func New(opts Options) *Sampler {
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	procRoot := opts.ProcRoot
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	alpha := opts.Smoothing
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	size := opts.History
	if size <= 0 {
		size = 300
	}
	return &Sampler{
		procRoot: procRoot,
		iface:    opts.Interface,
		interval: interval,
		alpha:    alpha,
		onSample: opts.OnSample,
		log:      log.With("component", "throughput"),
		now:      now,
		history:  NewHistory[models.ThroughputSample](size),
	}
}

// Run samples every interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.Sample(); err != nil {
		s.log.Debugf("first sample: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sample(); err != nil {
				s.log.Debugf("sample: %v", err)
			}
		}
	}
}

// Sample reads the counters once. It returns ok=false while it only has a
// baseline, after a counter wrap, or when the interface changed.
func (s *Sampler) Sample() (ok bool, err error) {
	iface, err := s.interfaceName()
	if err != nil {
		return false, err
	}
	counters, err := s.read(iface)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	prev, prevIfc := s.prev, s.prevIfc
	s.prev, s.prevIfc = &counters, iface
	if prev == nil || prevIfc != iface {
		s.down, s.up = nil, nil
		s.mu.Unlock()
		return false, nil
	}
	rate, err := CalculateRate(*prev, counters)
	if err != nil {
		s.mu.Unlock()
		if stderrors.Is(err, ErrCounterWrap) {
			s.log.Debugf("counter wrap on %s, sample skipped", iface)
			return false, nil
		}
		return false, err
	}
	down := smooth(s.down, rate.RxBps/1e6, s.alpha)
	up := smooth(s.up, rate.TxBps/1e6, s.alpha)
	s.down, s.up = &down, &up
	s.mu.Unlock()

	sample := models.ThroughputSample{
		Interface:    iface,
		DownloadMbps: down,
		UploadMbps:   up,
		SampledAt:    counters.Timestamp,
	}
	s.history.Add(sample)
	if s.onSample != nil {
		s.onSample(sample)
	}
	return true, nil
}

// Latest returns the newest smoothed sample.
func (s *Sampler) Latest() (models.ThroughputSample, bool) {
	return s.history.Last()
}

func (s *Sampler) History() []models.ThroughputSample {
	return s.history.All()
}

func (s *Sampler) interfaceName() (string, error) {
	if s.iface != "" {
		return s.iface, nil
	}
	route, err := probe.DefaultRoute(s.procRoot)
	if err != nil {
		return "", err
	}
	return route.Interface, nil
}

func (s *Sampler) read(iface string) (CounterSample, error) {
	fs, err := procfs.NewFS(s.procRoot)
	if err != nil {
		return CounterSample{}, fmt.Errorf("open %s: %w", s.procRoot, err)
	}
	devs, err := fs.NetDev()
	if err != nil {
		return CounterSample{}, fmt.Errorf("read interface counters: %w", err)
	}
	line, ok := devs[iface]
	if !ok {
		return CounterSample{}, fmt.Errorf("interface %s not found", iface)
	}
	return CounterSample{RxBytes: line.RxBytes, TxBytes: line.TxBytes, Timestamp: s.now()}, nil
}
