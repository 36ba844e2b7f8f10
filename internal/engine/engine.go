package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Observer receives every verdict produced by the engine (metrics).
type Observer interface {
	ObserveVerdict(kind Kind, v Verdict, elapsed time.Duration)
}

// Options configures an Engine.
type Options struct {
	Matrix   *MatrixHolder
	Cache    *QueryCache // purged whenever a new matrix is published; may be nil
	Logger   *zap.Logger
	Observer Observer // may be nil
}

// Engine routes each event to the detectors registered for its kind and
// returns the first non-clean verdict. Detectors run synchronously on the
// caller's goroutine in registration order.
type Engine struct {
	detectors map[Kind][]Detector
	matrix    *MatrixHolder
	cache     *QueryCache
	logger    *zap.Logger
	observer  Observer
}

// New creates an engine with no registered detectors.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	holder := opts.Matrix
	if holder == nil {
		holder = NewMatrixHolder(NewMatrix(nil))
	}
	return &Engine{
		detectors: make(map[Kind][]Detector),
		matrix:    holder,
		cache:     opts.Cache,
		logger:    logger,
		observer:  opts.Observer,
	}
}

// Register appends detectors to the chain of kind. Registration happens at
// startup, before the engine is shared.
func (e *Engine) Register(kind Kind, detectors ...Detector) {
	e.detectors[kind] = append(e.detectors[kind], detectors...)
}

// Detectors returns the names of the detectors registered for kind, in order.
func (e *Engine) Detectors(kind Kind) []string {
	names := make([]string, 0, len(e.detectors[kind]))
	for _, d := range e.detectors[kind] {
		names = append(names, d.Name())
	}
	return names
}

// Matrix returns the currently published matrix.
func (e *Engine) Matrix() *Matrix {
	return e.matrix.Load()
}

// SwapMatrix publishes m and drops cached benign queries.
func (e *Engine) SwapMatrix(m *Matrix) {
	e.matrix.Swap(m)
	e.cache.Purge()
	e.logger.Info("algorithm matrix published", zap.Int("algorithms", len(m.Names())))
}

// Evaluate inspects one event. Events of unregistered kinds, nil events and
// detector faults all yield Clean.
func (e *Engine) Evaluate(ev Event, rc *RequestContext) Verdict {
	if ev == nil {
		return Clean
	}
	if rc == nil {
		rc = &RequestContext{}
	}

	start := time.Now()
	kind := ev.Kind()
	m := e.matrix.Load()

	verdict := Clean
	for _, d := range e.detectors[kind] {
		v := e.safeDetect(d, ev, rc, m)
		if !v.IsClean() {
			verdict = v
			break
		}
	}

	if !verdict.IsClean() {
		e.logger.Info("attack detected",
			zap.String("kind", string(kind)),
			zap.String("algorithm", verdict.Algorithm),
			zap.String("action", verdict.Action.String()),
			zap.Int("confidence", verdict.Confidence),
			zap.String("message", verdict.Message),
		)
	}
	if e.observer != nil {
		e.observer.ObserveVerdict(kind, verdict, time.Since(start))
	}
	return verdict
}

// safeDetect runs one detector and turns a panic into Clean.
func (e *Engine) safeDetect(d Detector, ev Event, rc *RequestContext, m *Matrix) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("detector panic, failing open",
				zap.String("detector", d.Name()),
				zap.String("kind", string(ev.Kind())),
				zap.String("panic", fmt.Sprint(r)),
			)
			v = Clean
		}
	}()
	return d.Detect(ev, rc, m)
}
