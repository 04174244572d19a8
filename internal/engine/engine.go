package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/interaction"
	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/retrain"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"go.uber.org/zap"
)

// #region options

type options struct {
	initial        policy.Policy
	fallback       policy.Policy
	fallbackAction schema.Action
	recorder       Recorder
	observer       Observer
	logger         *zap.Logger
	now            func() time.Time
	promote        bool
}

// Option configures an Engine.
type Option func(*options)

// WithPolicy installs p at construction, leaving the engine Ready.
func WithPolicy(p policy.Policy) Option {
	return func(o *options) { o.initial = p }
}

// WithFallbackPolicy answers for the active policy while it is untrained.
func WithFallbackPolicy(p policy.Policy) Option {
	return func(o *options) { o.fallback = p }
}

// WithFallbackAction answers with a fixed action while the active policy is
// untrained and no fallback policy is set.
func WithFallbackAction(a schema.Action) Option {
	return func(o *options) { o.fallbackAction = a }
}

// WithRecorder forwards interactions and retrain outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithObserver forwards telemetry to ob.
func WithObserver(ob Observer) Option {
	return func(o *options) { o.observer = ob }
}

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPromotion controls whether the first successful retrain replaces a
// non-learned active policy with the classifier. Enabled by default.
func WithPromotion(enabled bool) Option {
	return func(o *options) { o.promote = enabled }
}

// #endregion options

// #region engine

type installed struct{ p policy.Policy }

// Engine accepts a context, decides an action, logs it and retrains on schedule.
type Engine struct {
	codec      *schema.Codec
	log        *interaction.Log
	classifier *policy.Classifier
	sched      *retrain.Scheduler
	active     atomic.Pointer[installed]
	opts       options
	logger     *zap.Logger
}

// New builds an engine. Without WithPolicy it starts Uninitialized.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Codec == nil {
		return nil, fmt.Errorf("engine: nil codec")
	}
	o := options{logger: zap.NewNop(), now: time.Now, promote: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fallbackAction != "" {
		if _, err := cfg.Codec.Label(o.fallbackAction); err != nil {
			return nil, fmt.Errorf("engine: fallback action: %w", err)
		}
	}

	classifier, err := policy.NewClassifier(cfg.Codec, cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e := &Engine{
		codec:      cfg.Codec,
		log:        interaction.NewLog(),
		classifier: classifier,
		opts:       o,
		logger:     o.logger.Named("engine"),
	}
	e.sched, err = retrain.NewScheduler(cfg.Retrain, e.log, cfg.Codec, classifier,
		retrain.WithLogger(o.logger),
		retrain.WithClock(o.now),
		retrain.OnOutcome(e.onRetrain),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if o.initial != nil {
		if err := e.Install(o.initial); err != nil {
			e.sched.Close()
			return nil, err
		}
	}
	return e, nil
}

// Install makes p the active policy. The engine is Ready afterwards.
func (e *Engine) Install(p policy.Policy) error {
	if p == nil {
		return fmt.Errorf("engine: install nil policy")
	}
	prev := e.active.Swap(&installed{p: p})
	from := "none"
	if prev != nil {
		from = string(prev.p.Kind())
	}
	e.logger.Info("policy installed", zap.String("from", from), zap.String("kind", string(p.Kind())))
	return nil
}

// Classifier returns the engine's trainable policy, the one retraining publishes into.
func (e *Engine) Classifier() *policy.Classifier { return e.classifier }

// Codec returns the engine's feature codec.
func (e *Engine) Codec() *schema.Codec { return e.codec }

// Decide encodes c, asks the active policy, logs the decision and, when the
// interval is reached, retrains before returning. Failed calls log nothing.
func (e *Engine) Decide(ctx context.Context, c schema.Context) (schema.Action, error) {
	rec, err := e.DecideRecord(ctx, c)
	return rec.Action, err
}

// DecideRecord is Decide returning the logged record, so callers can see
// which policy produced the action.
func (e *Engine) DecideRecord(ctx context.Context, c schema.Context) (interaction.Record, error) {
	start := e.opts.now()
	vec, err := e.codec.Encode(c)
	if err != nil {
		e.reject("schema_mismatch")
		return interaction.Record{}, fmt.Errorf("decide: %w", err)
	}

	cur := e.active.Load()
	if cur == nil {
		e.reject("not_ready")
		return interaction.Record{}, ErrNotReady
	}

	action, err := cur.p.Decide(vec)
	source := cur.p.Kind()
	if errors.Is(err, policy.ErrPolicyNotTrained) {
		action, source, err = e.fallback(vec, err)
	}
	if err != nil {
		e.reject(reasonOf(err))
		return interaction.Record{}, fmt.Errorf("decide: %w", err)
	}

	rec := e.log.Append(interaction.Record{Context: c, Action: action, Source: source})
	if e.opts.recorder != nil {
		if err := e.opts.recorder.RecordInteraction(ctx, rec); err != nil {
			e.logger.Warn("record interaction", zap.Uint64("seq", rec.Seq), zap.Error(err))
		}
	}
	if ob := e.opts.observer; ob != nil {
		ob.ObserveDecision(source, action, e.opts.now().Sub(start))
		ob.ObserveLogSize(e.log.Len())
	}

	if cycle, due := e.sched.Tick(); due {
		e.logger.Debug("retrain due", zap.Uint64("cycle", cycle), zap.Uint64("seq", rec.Seq))
		e.sched.Trigger(ctx, cycle)
	}
	return rec, nil
}

func (e *Engine) fallback(vec schema.FeatureVector, cause error) (schema.Action, policy.Kind, error) {
	if fb := e.opts.fallback; fb != nil {
		a, err := fb.Decide(vec)
		return a, fb.Kind(), err
	}
	if e.opts.fallbackAction != "" {
		return e.opts.fallbackAction, policy.KindFallback, nil
	}
	return "", "", cause
}

func (e *Engine) reject(reason string) {
	if ob := e.opts.observer; ob != nil {
		ob.ObserveRejected(reason)
	}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, policy.ErrPolicyNotTrained):
		return "not_trained"
	case errors.Is(err, schema.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, schema.ErrUnknownLabel):
		return "unknown_label"
	default:
		return "error"
	}
}

func (e *Engine) onRetrain(out retrain.Outcome) {
	if out.Published() && e.opts.promote {
		if cur := e.active.Load(); cur != nil && cur.p.Kind() != policy.KindClassifier {
			_ = e.Install(e.classifier)
		}
	}
	if e.opts.recorder != nil {
		if err := e.opts.recorder.RecordRetrain(context.Background(), out); err != nil {
			e.logger.Warn("record retrain", zap.Uint64("cycle", out.Cycle), zap.Error(err))
		}
	}
	if ob := e.opts.observer; ob != nil {
		ob.ObserveRetrain(out)
	}
}

// RestoreModel publishes a persisted model into the classifier, promoting it
// like a retrain would.
func (e *Engine) RestoreModel(m *policy.Model) error {
	if err := e.classifier.Publish(m); err != nil {
		return fmt.Errorf("restore model: %w", err)
	}
	if e.opts.promote {
		if cur := e.active.Load(); cur == nil || cur.p.Kind() != policy.KindClassifier {
			return e.Install(e.classifier)
		}
	}
	return nil
}

// #endregion engine

// #region accessors

// State returns the lifecycle state.
func (e *Engine) State() State {
	if e.active.Load() == nil {
		return StateUninitialized
	}
	if e.sched.Busy() {
		return StateRetraining
	}
	return StateReady
}

// PolicyKind returns the kind of the active policy, or "" when uninitialized.
func (e *Engine) PolicyKind() policy.Kind {
	if cur := e.active.Load(); cur != nil {
		return cur.p.Kind()
	}
	return ""
}

// LastRetrain returns the most recent retrain outcome.
func (e *Engine) LastRetrain() (retrain.Outcome, bool) { return e.sched.Last() }

// LogSize returns the number of logged interactions.
func (e *Engine) LogSize() int { return e.log.Len() }

// Stats collects every accessor into one value.
func (e *Engine) Stats() Stats {
	s := Stats{
		State:         e.State(),
		PolicyKind:    e.PolicyKind(),
		LogSize:       e.log.Len(),
		Interactions:  e.sched.Count(),
		RetrainCycles: e.sched.Cycles(),
	}
	if m := e.classifier.Current(); m != nil {
		s.ModelVersion = m.VersionID
	}
	if out, ok := e.sched.Last(); ok {
		s.LastRetrain = &out
	}
	return s
}

// #endregion accessors

// #region persistence

// ExportLog returns a copy of every logged interaction.
func (e *Engine) ExportLog() []interaction.Record { return e.log.Snapshot() }

// ImportLog seeds the log from persisted records. Every record must encode
// under the current schema and carry a vocabulary action, or nothing is imported.
func (e *Engine) ImportLog(records []interaction.Record) error {
	for i, r := range records {
		if _, err := e.codec.Encode(r.Context); err != nil {
			return fmt.Errorf("import record %d: %w", i, err)
		}
		if _, err := e.codec.Label(r.Action); err != nil {
			return fmt.Errorf("import record %d: %w", i, err)
		}
	}
	e.log.Import(records)
	if ob := e.opts.observer; ob != nil {
		ob.ObserveLogSize(e.log.Len())
	}
	e.logger.Info("log imported", zap.Int("records", len(records)), zap.Int("size", e.log.Len()))
	return nil
}

// TruncateLog keeps the newest keep records and returns how many were
// dropped. The engine never truncates on its own.
func (e *Engine) TruncateLog(keep int) int {
	dropped := e.log.RetainLast(keep)
	if dropped > 0 {
		if ob := e.opts.observer; ob != nil {
			ob.ObserveLogSize(e.log.Len())
		}
		e.logger.Info("log truncated", zap.Int("dropped", dropped), zap.Int("size", e.log.Len()))
	}
	return dropped
}

// Retrain runs a cycle immediately, outside the interval schedule. The
// outcome is marked Manual and numbered apart from scheduled cycles.
func (e *Engine) Retrain(ctx context.Context) retrain.Outcome {
	return e.sched.RunNow(ctx)
}

// Close stops background retraining.
func (e *Engine) Close() error {
	e.sched.Close()
	return nil
}

// #endregion persistence
