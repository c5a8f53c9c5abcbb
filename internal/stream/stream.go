package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"job-status-stream/internal/entity"
	xlog "job-status-stream/internal/log"
	"job-status-stream/internal/metrics"
)

var (
	// ErrClosed is returned by Connect after Shutdown.
	ErrClosed = errors.New("status stream closed")
	// ErrConnectionLost is surfaced to observers once reconnect attempts are exhausted.
	ErrConnectionLost = errors.New("connection lost")
	ErrEmptyJobID     = errors.New("job id is required")
)

const (
	DefaultHealthInterval     = 10 * time.Second
	DefaultVisibilityDebounce = 250 * time.Millisecond
	shutdownNoticeParallelism = 8
)

type Options struct {
	Transport Transport
	Tokens    TokenSource
	Notifier  Notifier

	// Registry defaults to a fresh one.
	Registry *Registry
	Policy   ReconnectPolicy
	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts        int
	HealthInterval     time.Duration
	VisibilityDebounce time.Duration
	BatchWindow        time.Duration
	NotifyTimeout      time.Duration
	// OpenLimiter throttles transport opens across all jobs when set.
	OpenLimiter *rate.Limiter
	Recorder    Recorder
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Stream owns the live status subscriptions of every job: one shared transport per job,
// reference counted across observers, reconnected with bounded retries.
type Stream struct {
	transport Transport
	tokens    TokenSource
	reg       *Registry
	parser    *Parser
	batcher   *Batcher
	policy    ReconnectPolicy
	limiter   *rate.Limiter
	recorder  Recorder
	log       zerolog.Logger

	maxAttempts    int
	healthInterval time.Duration
	debounce       time.Duration
	notifyTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	visible  bool
	visTimer *time.Timer
}

func New(opts Options) (*Stream, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("notifier is required")
	}

	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	policy := opts.Policy
	if policy.BaseDelay <= 0 {
		policy = DefaultReconnectPolicy()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	health := opts.HealthInterval
	if health <= 0 {
		health = DefaultHealthInterval
	}
	debounce := opts.VisibilityDebounce
	if debounce <= 0 {
		debounce = DefaultVisibilityDebounce
	}
	notifyTimeout := opts.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}

	batcher := NewBatcher(opts.Notifier, opts.BatchWindow, opts.Logger)
	batcher.timeout = notifyTimeout

	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		transport:      opts.Transport,
		tokens:         opts.Tokens,
		reg:            reg,
		parser:         NewParser(opts.Now),
		batcher:        batcher,
		policy:         policy,
		limiter:        opts.OpenLimiter,
		recorder:       opts.Recorder,
		log:            opts.Logger,
		maxAttempts:    maxAttempts,
		healthInterval: health,
		debounce:       debounce,
		notifyTimeout:  notifyTimeout,
		ctx:            ctx,
		cancel:         cancel,
		visible:        true,
	}, nil
}

func (s *Stream) Registry() *Registry { return s.reg }

func (s *Stream) Batcher() *Batcher { return s.batcher }

// Connect subscribes obs to jobID. The first subscription for a job opens the shared
// transport; later ones only take a reference and replay the last known status.
func (s *Stream) Connect(jobID entity.JobID, obs Observer) (*Subscription, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}

	sub := newSubscription(s, jobID, obs)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	e, created := s.reg.Acquire(jobID, sub)
	if created {
		if s.batcher.Cancel(jobID) {
			s.log.Debug().Str(xlog.FieldJobID, string(jobID)).Msg("pending disconnect notice withdrawn")
		}
		ctx, cancel := context.WithCancel(s.ctx)
		s.reg.start(e, cancel, RetryState{MaxAttempts: s.maxAttempts, BaseDelay: s.policy.BaseDelay})
		s.wg.Add(1)
		go s.run(ctx, cancel, e)
	}
	s.mu.Unlock()

	metrics.Subscriptions.Inc()

	v := s.reg.view(e)
	sub.setConnected(v.live)
	if v.last != nil {
		sub.deliver(v.seq, *v.last)
	}

	s.log.Debug().
		Str(xlog.FieldJobID, string(jobID)).
		Str(xlog.FieldSubscriptionID, sub.ID.String()).
		Int(xlog.FieldCount, v.refCount).
		Bool("new_connection", created).
		Msg("subscribed")
	return sub, nil
}

// Disconnect releases sub's reference. The transport is closed only when no other
// subscription depends on it; the backend is then told immediately (urgent) or with the
// next batch. Repeated calls for one subscription are no-ops.
func (s *Stream) Disconnect(sub *Subscription, urgent bool) {
	if sub == nil || !sub.detach() {
		return
	}
	metrics.Subscriptions.Dec()

	remaining, removed := s.reg.Release(sub.JobID, sub)
	logger := s.log.With().
		Str(xlog.FieldJobID, string(sub.JobID)).
		Str(xlog.FieldSubscriptionID, sub.ID.String()).
		Logger()
	if removed == nil {
		logger.Debug().Int(xlog.FieldCount, remaining).Msg("unsubscribed, connection kept")
		return
	}

	s.teardown(removed)
	logger.Info().Bool("urgent", urgent).Msg("last subscriber left, connection closed")

	if urgent {
		s.notifyUrgent(sub.JobID)
		return
	}
	s.batcher.Enqueue(sub.JobID)
	// a Connect that raced in after Release already owns a fresh transport
	if _, ok := s.reg.RefCount(sub.JobID); ok {
		s.batcher.Cancel(sub.JobID)
	}
}

// Visible reports the current page visibility.
func (s *Stream) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// SetVisible records page visibility. Turning visible schedules, after a debounce, a
// reconnect of every connection that is down.
func (s *Stream) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.visible
	s.visible = visible
	if s.closed {
		return
	}
	if s.visTimer != nil {
		s.visTimer.Stop()
		s.visTimer = nil
	}
	if visible && !was {
		s.visTimer = time.AfterFunc(s.debounce, func() {
			if n := s.reconnectStale(); n > 0 {
				s.log.Info().Int(xlog.FieldCount, n).Msg("page visible, reconnecting streams")
			}
		})
	}
}

// Run performs the periodic health check until ctx ends or the stream shuts down.
func (s *Stream) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.ctx.Done():
			return nil
		case <-ticker.C:
			if !s.Visible() {
				continue
			}
			if n := s.reconnectStale(); n > 0 {
				s.log.Info().Int(xlog.FieldCount, n).Msg("health check: reconnecting streams")
			}
		}
	}
}

// Shutdown is the page-unload path: every connection is closed, the backend is told about
// all of them at once, pending batches are flushed and background work is awaited.
// Network failures are returned but never undo the local teardown.
func (s *Stream) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.visTimer != nil {
		s.visTimer.Stop()
		s.visTimer = nil
	}
	s.mu.Unlock()

	entries := s.reg.RemoveAll()
	var g errgroup.Group
	g.SetLimit(shutdownNoticeParallelism)
	for _, e := range entries {
		s.teardown(e)
		jobID := e.jobID
		g.Go(func() error {
			return s.batcher.FlushUrgent(ctx, jobID)
		})
	}
	noticeErr := g.Wait()
	batchErr := s.batcher.Close(ctx)

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	s.log.Info().Int(xlog.FieldCount, len(entries)).Msg("status stream shut down")

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return errors.Join(noticeErr, batchErr)
}

func (s *Stream) teardown(e *Entry) {
	if e.cancel != nil {
		e.cancel()
	}
	s.closeConn(e)
}

func (s *Stream) closeConn(e *Entry) {
	if c := s.reg.takeConn(e); c != nil {
		_ = c.Close()
		metrics.ConnectionsLive.Dec()
	}
}

func (s *Stream) notifyUrgent(jobID entity.JobID) {
	ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
	defer cancel()
	_ = s.batcher.FlushUrgent(ctx, jobID)
}

func (s *Stream) reconnectStale() int {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0
	}

	stale := s.reg.stale()
	for _, e := range stale {
		e.kick()
	}
	return len(stale)
}

// run is the single goroutine that opens transports for e.
func (s *Stream) run(ctx context.Context, cancel context.CancelFunc, e *Entry) {
	defer s.wg.Done()
	defer cancel()

	logger := s.log.With().Str(xlog.FieldJobID, string(e.jobID)).Logger()

	for {
		stop, err := s.session(ctx, e, logger)
		if stop || ctx.Err() != nil {
			return
		}

		retry, subs, ok := s.reg.markDown(e)
		if !ok {
			return
		}
		for _, sub := range subs {
			sub.setConnected(false)
		}

		d := s.policy.Decide(retry.Attempts, retry.MaxAttempts, s.Visible())
		if !d.Retry {
			s.giveUp(e, retry, err, logger)
			return
		}

		logger.Warn().Err(err).
			Int(xlog.FieldAttempt, retry.Attempts).
			Dur(xlog.FieldDelay, d.Delay).
			Bool("wait_for_visible", d.WaitForVisible).
			Msg("status stream down, retry scheduled")

		if !s.wait(ctx, e, d.Delay) {
			return
		}
	}
}

func (s *Stream) giveUp(e *Entry, retry RetryState, cause error, logger zerolog.Logger) {
	subs, ok := s.reg.removeEntry(e)
	if !ok {
		return
	}
	metrics.ConnectionsLost.Inc()
	logger.Error().Err(cause).Int(xlog.FieldAttempt, retry.Attempts).Msg("reconnect attempts exhausted")

	lost := fmt.Errorf("%w after %d attempts: %v", ErrConnectionLost, retry.Attempts, cause)
	for _, sub := range subs {
		sub.fail(lost)
	}
}

// wait sleeps for delay, cut short by a wake, and then holds the retry while the page is
// hidden. It reports false when ctx ended.
func (s *Stream) wait(ctx context.Context, e *Entry, delay time.Duration) bool {
	select {
	case <-e.wake:
	default:
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-e.wake:
	case <-timer.C:
	}

	for !s.Visible() {
		select {
		case <-ctx.Done():
			return false
		case <-e.wake:
		}
	}
	return true
}

// session opens one transport and reads it until it fails, a terminal status arrives or
// ctx ends. stop reports that the entry must not be reconnected.
func (s *Stream) session(ctx context.Context, e *Entry, logger zerolog.Logger) (stop bool, err error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return false, fmt.Errorf("token: %w", err)
	}

	conn, err := s.transport.Open(ctx, e.jobID, token)
	if err != nil {
		metrics.IncTransportOpen(false)
		return false, fmt.Errorf("open: %w", err)
	}
	metrics.IncTransportOpen(true)

	subs, ok := s.reg.attachConn(e, conn)
	if !ok {
		_ = conn.Close()
		return true, nil
	}
	metrics.ConnectionsLive.Inc()
	defer s.closeConn(e)

	for _, sub := range subs {
		sub.setConnected(true)
	}
	logger.Info().Msg("status stream open")

	for {
		frame, err := conn.Recv(ctx)
		if err != nil {
			return false, fmt.Errorf("recv: %w", err)
		}

		u, err := s.parser.Parse(e.jobID, frame)
		if err != nil {
			s.skipFrame(err, logger.With().Str(xlog.FieldEvent, frame.Event).Logger())
			continue
		}
		metrics.IncFrame("status")

		seq, subs, ok := s.reg.observe(e, u)
		if !ok {
			return true, nil
		}

		logger.Debug().
			Str(xlog.FieldStatus, string(u.Status)).
			Str(xlog.FieldStep, string(u.ProcessingStep)).
			Msg("status update")

		for _, sub := range subs {
			sub.deliver(seq, u)
		}
		if s.recorder != nil {
			s.recorder.Record(u)
		}

		if u.Status.IsTerminal() {
			s.finish(e, u, logger)
			return true, nil
		}
	}
}

// finish tears e down after a terminal status: transport closed, entry removed and the
// backend told immediately.
func (s *Stream) finish(e *Entry, u entity.StatusUpdate, logger zerolog.Logger) {
	s.closeConn(e)
	subs, removed := s.reg.removeEntry(e)
	for _, sub := range subs {
		sub.setConnected(false)
	}
	logger.Info().Str(xlog.FieldStatus, string(u.Status)).Msg("terminal status, stream closed")
	if removed || s.batcher.isPending(e.jobID) {
		s.notifyUrgent(e.jobID)
	}
}

func (s *Stream) skipFrame(err error, logger zerolog.Logger) {
	switch {
	case errors.Is(err, ErrAcknowledgement):
		metrics.IncFrame("ack")
		logger.Debug().Msg("stream acknowledged")
	case errors.Is(err, ErrServerError):
		metrics.IncFrame("server_error")
		logger.Warn().Err(err).Msg("server reported an error, frame skipped")
	default:
		metrics.IncFrame("malformed")
		logger.Warn().Err(err).Msg("malformed frame skipped")
	}
}
