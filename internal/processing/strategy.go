package processing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Factory builds maximum-concurrency strategies.
type Factory struct {
	log zerolog.Logger
}

// NewFactory creates a strategy factory.
func NewFactory(log zerolog.Logger) *Factory {
	return &Factory{log: log.With().Str("component", "processing").Logger()}
}

// Create builds a Strategy for cfg.
func (f *Factory) Create(cfg Config) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Strategy{
		cfg:   cfg,
		log:   f.log,
		sinks: make(map[string]*Sink),
	}, nil
}

// Strategy controls how events flow into the pipelines it creates sinks for.
type Strategy struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	sinks map[string]*Sink
}

// IsSynchronous reports whether submitters run the pipeline themselves and
// receive its result directly.
func (s *Strategy) IsSynchronous() bool {
	return s.cfg.Synchronous
}

// Config returns the strategy's configuration.
func (s *Strategy) Config() Config {
	return s.cfg
}

// CreateSink returns the admission point for a running pipeline instance.
// Only one live sink may exist per pipeline ID; dispose it when the
// pipeline stops.
func (s *Strategy) CreateSink(pipelineID string, fn PipelineFunc) (*Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sinks[pipelineID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSinkActive, pipelineID)
	}
	k := &Sink{
		pipelineID: pipelineID,
		strategy:   s,
		fn:         fn,
		log:        s.log.With().Str("pipeline_id", pipelineID).Logger(),
	}
	k.stopped, k.stop = context.WithCancel(context.Background())
	if s.cfg.MaxConcurrency > 0 && !s.cfg.EagerCheck {
		k.sem = semaphore.NewWeighted(int64(s.cfg.MaxConcurrency))
	}
	s.sinks[pipelineID] = k
	s.log.Debug().
		Str("pipeline_id", pipelineID).
		Int("max_concurrency", s.cfg.MaxConcurrency).
		Bool("eager_check", s.cfg.EagerCheck).
		Msg("Sink created")
	return k, nil
}

// Sink returns the live sink for pipelineID, if any.
func (s *Strategy) Sink(pipelineID string) (*Sink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.sinks[pipelineID]
	return k, ok
}

func (s *Strategy) release(pipelineID string, k *Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sinks[pipelineID] == k {
		delete(s.sinks, pipelineID)
	}
}

// OnPipeline decorates fn with panic recovery, exception-handler routing
// and duration metrics.
func (s *Strategy) OnPipeline(pipelineID string, fn PipelineFunc, handler ExceptionHandler) PipelineFunc {
	return func(ctx context.Context, ev *Event) (out *Event, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				out, err = nil, &PanicError{PipelineID: pipelineID, Value: r}
			}
			if err != nil && handler != nil {
				out, err = handler(ctx, ev, err)
			}
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			PipelineDuration.WithLabelValues(pipelineID, outcome).Observe(time.Since(start).Seconds())
		}()
		return fn(ctx, ev)
	}
}
