package inference

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/model"
)

// State is the lifecycle position of a Session.
type State int32

const (
	Initializing State = iota
	Streaming
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "INITIALIZING"
	case Streaming:
		return "STREAMING"
	case Completed:
		return "COMPLETED"
	case Cancelled:
		return "CANCELLED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s State) Terminal() bool { return s >= Completed }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Session is one generation. It acquires its runtime and tokenizer on the
// first pull of Stream and releases both on every terminal path. A session
// can be streamed once.
type Session struct {
	id     string
	req    Request
	loader *Loader
	log    logger.Logger

	state     atomic.Int32
	cancelled atomic.Bool
	started   atomic.Bool
	running   sync.Mutex
	done      chan struct{}

	mu          sync.Mutex
	begun       time.Time
	err         error
	stats       Stats
	tokens      []int
	accelerator backend.Kind
	res         *guard
}

// NewSession prepares a session. Nothing is opened until the stream is pulled.
func (l *Loader) NewSession(req Request) *Session {
	if req.Settings.MaxNewTokens <= 0 {
		req.Settings.MaxNewTokens = model.DefaultMaxNewTokens
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		req:    req,
		loader: l,
		log:    l.logger().With("session", id),
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Request() Request      { return s.req }
func (s *Session) State() State          { return State(s.state.Load()) }
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the terminal cause: the failure for FAILED, the context error for a
// context-driven CANCELLED, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Tokens returns the ids generated so far, excluding the end token.
func (s *Session) Tokens() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.tokens...)
}

// Accelerator is the kind the runtime ended up on. It is empty until the
// runtime has opened.
func (s *Session) Accelerator() backend.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accelerator
}

// Cancel requests cancellation. It never blocks and may be called any number
// of times, including from inside the consuming loop. A session that has not
// started streaming is finished immediately; a running one stops before its
// next step. Use Wait to observe the release of its resources.
func (s *Session) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	if s.running.TryLock() {
		defer s.running.Unlock()
		if !s.State().Terminal() {
			s.finish(Cancelled, nil)
		}
	}
}

// Wait blocks until the session is terminal and its resources are released.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stream returns the lazy sequence of decoded fragments. Each pull runs at
// most one forward pass. Breaking out of the loop cancels the session. A
// failure is delivered as the final element with an empty fragment.
func (s *Session) Stream(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !s.started.CompareAndSwap(false, true) {
			yield("", ErrSessionConsumed)
			return
		}
		s.running.Lock()
		defer s.running.Unlock()
		if s.State().Terminal() {
			return
		}
		s.run(ctx, yield)
	}
}

// Run drains the stream into fn and returns the terminal cause.
func (s *Session) Run(ctx context.Context, fn func(string)) error {
	for frag, err := range s.Stream(ctx) {
		if err != nil {
			return err
		}
		if fn != nil {
			fn(frag)
		}
	}
	return s.Err()
}

func (s *Session) run(ctx context.Context, yield func(string, error) bool) {
	start := time.Now()
	s.mu.Lock()
	s.begun = start
	s.mu.Unlock()
	if obs := s.loader.Observer; obs != nil {
		obs.SessionStarted(s.id, s.req.ModelPath)
	}
	if s.stopRequested(ctx) {
		s.finish(Cancelled, ctx.Err())
		return
	}

	res, err := s.acquire()
	if err != nil {
		s.finish(Failed, err)
		yield("", err)
		return
	}
	s.mu.Lock()
	s.res = res
	s.accelerator = res.runtime.Accelerator()
	s.mu.Unlock()

	ids := res.codec.Encode(s.req.Prompt)
	buf := NewTokenBuffer(res.runtime.InputLen())
	if err := buf.Load(ids); err != nil {
		err = stepError(0, err)
		s.finish(Failed, err)
		yield("", err)
		return
	}
	s.mu.Lock()
	s.stats.PromptTokens = len(ids)
	s.mu.Unlock()

	if s.req.Settings.SamplingRequested() {
		s.log.Debug("sampling settings are not applied, decoding greedily",
			"temperature", s.req.Settings.Temperature, "top_k", s.req.Settings.TopK)
	}
	s.setState(Streaming)

	budget := s.req.Settings.MaxNewTokens
	endID := res.codec.EndID()
	for generated := 0; ; {
		if s.stopRequested(ctx) {
			s.finish(Cancelled, ctx.Err())
			return
		}

		next, err := res.runtime.Step(buf)
		if err != nil {
			s.finish(Failed, err)
			yield("", err)
			return
		}
		if next == endID {
			s.finish(Completed, nil)
			return
		}

		frag := res.codec.Decode(next)
		generated++
		s.mu.Lock()
		s.tokens = append(s.tokens, next)
		s.stats.TokensGenerated = generated
		if generated == 1 {
			s.stats.FirstToken = time.Since(start)
		}
		s.mu.Unlock()

		if generated >= budget {
			s.finish(Completed, nil)
			yield(frag, nil)
			return
		}
		if !yield(frag, nil) {
			s.finish(Cancelled, nil)
			return
		}
		buf.Feed(next)
	}
}

func (s *Session) stopRequested(ctx context.Context) bool {
	return s.cancelled.Load() || ctx.Err() != nil
}

func (s *Session) acquire() (*guard, error) {
	codec, err := s.loader.loadCodec(s.req.TokenizerPath)
	if err != nil {
		return nil, err
	}
	rt, err := s.loader.Open(s.req.ModelPath, s.req.Accelerator)
	if err != nil {
		return nil, err
	}
	return &guard{runtime: rt, codec: codec}, nil
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	s.log.Debug("session state", "from", prev, "to", st)
}

// finish releases owned resources, then publishes the terminal state.
// Callers hold s.running.
func (s *Session) finish(st State, cause error) {
	s.mu.Lock()
	res := s.res
	s.res = nil
	s.mu.Unlock()

	if err := res.release(); err != nil {
		s.log.Warn("release session resources", "error", err)
	}

	s.mu.Lock()
	s.err = cause
	began := !s.begun.IsZero()
	if began {
		s.stats.finish(s.begun)
	}
	report := Report{
		SessionID:   s.id,
		Model:       s.req.ModelPath,
		Accelerator: s.accelerator,
		State:       st,
		Err:         cause,
		Stats:       s.stats,
	}
	s.mu.Unlock()

	s.setState(st)
	close(s.done)

	attrs := []any{"state", st, "tokens", report.Stats.TokensGenerated, "duration", report.Stats.Duration, "tps", report.Stats.TPS}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	s.log.Info("generation finished", attrs...)

	if obs := s.loader.Observer; obs != nil && began {
		obs.SessionFinished(report)
	}
}
