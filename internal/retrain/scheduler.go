package retrain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/interaction"
	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"go.uber.org/zap"
)

// #region source

// Source supplies the newest records for a training window.
type Source interface {
	Window(n int) []interaction.Record
}

// #endregion source

// #region options

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l.Named("retrain")
		}
	}
}

// OnOutcome registers fn to be called after every cycle, from the goroutine
// that ran it.
func OnOutcome(fn func(Outcome)) Option {
	return func(s *Scheduler) { s.hooks = append(s.hooks, fn) }
}

// WithClock overrides time.Now for outcome timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// #endregion options

// #region scheduler

// Scheduler counts interactions and retrains target every Interval of them.
type Scheduler struct {
	cfg    Config
	source Source
	codec  *schema.Codec
	target policy.Trainable
	gate   *Gate
	log    *zap.Logger
	hooks  []func(Outcome)
	now    func() time.Time

	count  atomic.Uint64
	cycles atomic.Uint64
	manual atomic.Uint64
	busy   atomic.Int32
	last   atomic.Pointer[Outcome]

	trigger   chan uint64
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewScheduler validates cfg and, in async mode, starts the retrain worker.
func NewScheduler(cfg Config, source Source, codec *schema.Codec, target policy.Trainable, opts ...Option) (*Scheduler, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	if source == nil || codec == nil || target == nil {
		return nil, fmt.Errorf("retrain: source, codec and target are required")
	}
	s := &Scheduler{
		cfg:    cfg,
		source: source,
		codec:  codec,
		target: target,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	minPerClass := 1
	if c, ok := target.(*policy.Classifier); ok {
		minPerClass = c.Config().MinSamplesPerClass
	}
	s.gate = NewGate(codec, GateConfig{MinAccuracy: cfg.MinAccuracy, MinSamplesPerClass: minPerClass})
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if cfg.Async {
		s.trigger = make(chan uint64, 1)
		s.wg.Add(1)
		go s.worker()
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Count returns the number of interactions counted so far.
func (s *Scheduler) Count() uint64 { return s.count.Load() }

// Cycles returns how many retrain cycles have been triggered.
func (s *Scheduler) Cycles() uint64 { return s.cycles.Load() }

// Busy reports whether a cycle is running.
func (s *Scheduler) Busy() bool { return s.busy.Load() > 0 }

// Last returns the most recent outcome, if any cycle has finished.
func (s *Scheduler) Last() (Outcome, bool) {
	o := s.last.Load()
	if o == nil {
		return Outcome{}, false
	}
	return *o, true
}

// Tick counts one interaction. Exactly one caller per Interval sees due=true,
// together with the cycle number it should run.
func (s *Scheduler) Tick() (cycle uint64, due bool) {
	n := s.count.Add(1)
	if n%uint64(s.cfg.Interval) != 0 {
		return 0, false
	}
	s.cycles.Add(1)
	return n / uint64(s.cfg.Interval), true
}

// Trigger runs cycle. In synchronous mode it runs on the caller's goroutine and
// returns the outcome; in async mode it hands the cycle to the worker and
// returns immediately with ok=false. A trigger arriving while another is
// still queued is coalesced into it.
func (s *Scheduler) Trigger(ctx context.Context, cycle uint64) (Outcome, bool) {
	if !s.cfg.Async {
		return s.Run(ctx, cycle), true
	}
	select {
	case s.trigger <- cycle:
	default:
		s.log.Debug("retrain already queued, coalescing", zap.Uint64("cycle", cycle))
	}
	return Outcome{}, false
}

// Run executes one retrain cycle: window, encode, fit, gate, publish. On any
// failure the target keeps its previously published model.
func (s *Scheduler) Run(ctx context.Context, cycle uint64) Outcome {
	return s.run(ctx, cycle, false)
}

// RunNow runs a cycle on request. Manual runs carry their own sequence
// (1, 2, ...) and never consume a scheduled cycle number.
func (s *Scheduler) RunNow(ctx context.Context) Outcome {
	return s.run(ctx, s.manual.Add(1), true)
}

func (s *Scheduler) run(ctx context.Context, cycle uint64, manual bool) Outcome {
	s.busy.Add(1)
	defer s.busy.Add(-1)

	start := s.now()
	out := Outcome{Cycle: cycle, Manual: manual, Count: s.count.Load(), StartedAt: start.UTC()}
	label := "cycle"
	if manual {
		label = "manual cycle"
	}

	samples, err := s.samples(s.source.Window(s.cfg.Window))
	out.Samples = len(samples)
	if err == nil {
		out.Model, err = s.target.Fit(ctx, samples)
	}
	if err == nil {
		out.Gate = s.gate.Evaluate(out.Model, samples)
		if out.Gate.Vetoed {
			out.Status = StatusRejected
			err = fmt.Errorf("gate: %s", out.Gate.Reason)
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = s.target.Publish(out.Model)
	}

	out.Duration = s.now().Sub(start)
	if err != nil {
		if out.Status == "" {
			out.Status = StatusFailed
		}
		out.Err = fmt.Errorf("%w: %s %d: %w", ErrRetrainFailed, label, cycle, err)
		s.log.Warn("retrain failed, keeping previous policy",
			zap.Uint64("cycle", cycle),
			zap.Bool("manual", manual),
			zap.Int("samples", out.Samples),
			zap.String("status", string(out.Status)),
			zap.Error(err))
	} else {
		out.Status = StatusPublished
		s.log.Info("retrain published",
			zap.Uint64("cycle", cycle),
			zap.Bool("manual", manual),
			zap.Int("samples", out.Samples),
			zap.String("version", out.Model.VersionID),
			zap.Duration("took", out.Duration))
	}

	s.last.Store(&out)
	for _, fn := range s.hooks {
		fn(out)
	}
	return out
}

func (s *Scheduler) samples(records []interaction.Record) ([]policy.Sample, error) {
	out := make([]policy.Sample, 0, len(records))
	for _, r := range records {
		vec, err := s.codec.Encode(r.Context)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", r.Seq, err)
		}
		out = append(out, policy.Sample{Vector: vec, Action: r.Action})
	}
	return out, nil
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case cycle := <-s.trigger:
			s.Run(s.ctx, cycle)
		}
	}
}

// Close stops the async worker, cancelling any cycle in flight, and waits
// for it to exit. Safe to call more than once.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// #endregion scheduler
