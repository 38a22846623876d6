package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-roadmap/internal/models"
	"github.com/noah-isme/gema-roadmap/internal/observability"
	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

const (
	// DefaultPollInterval is the wait between "current roadmap" polls.
	DefaultPollInterval = 3 * time.Second
	// DefaultPollTimeout is the hard ceiling for one generation session.
	DefaultPollTimeout = 90 * time.Second

	pollStatusBuffer = 8
	timeoutMessage   = "Timed out waiting for AI generation"
)

// PollState is the poller lifecycle state.
type PollState string

const (
	PollIdle     PollState = "idle"
	PollPolling  PollState = "polling"
	PollReady    PollState = "ready"
	PollTimedOut PollState = "timed_out"
)

// PollStatus is one observation emitted by the poller.
type PollStatus struct {
	Status         PollState `json:"status"`
	Message        string    `json:"message"`
	Attempts       int       `json:"attempts"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	Error          string    `json:"error,omitempty"`

	// Set only on the terminal ready status.
	Suggestions []models.Roadmap          `json:"-"`
	Current     *careerapi.CurrentRoadmap `json:"-"`
}

// Terminal reports whether no further statuses follow.
func (s PollStatus) Terminal() bool {
	return s.Status == PollReady || s.Status == PollTimedOut
}

// GenerationSource is the slice of the career API the poller needs.
type GenerationSource interface {
	Generate(ctx context.Context) (careerapi.GenerateResult, error)
	Current(ctx context.Context) (careerapi.CurrentRoadmap, error)
}

// Ticker abstracts time.Ticker so polling can run on simulated time.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	ticker *time.Ticker
}

func (t realTicker) C() <-chan time.Time { return t.ticker.C }
func (t realTicker) Stop()               { t.ticker.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{ticker: time.NewTicker(d)}
}

// PollerConfig tunes the generation poller.
type PollerConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// ResetBudgetOnRetry restarts the timeout clock on Retry instead of accruing against the first start.
	ResetBudgetOnRetry bool
	Now                func() time.Time
	NewTicker          func(time.Duration) Ticker
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultPollTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewTicker == nil {
		c.NewTicker = NewRealTicker
	}
	return c
}

// GenerationPoller triggers roadmap generation and polls until suggestions exist or time runs out.
type GenerationPoller struct {
	source GenerationSource
	cfg    PollerConfig
	logger zerolog.Logger

	mu        sync.Mutex
	status    PollStatus
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewGenerationPoller constructs an idle poller.
func NewGenerationPoller(source GenerationSource, cfg PollerConfig, logger zerolog.Logger) *GenerationPoller {
	return &GenerationPoller{
		source: source,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "roadmap_poller").Logger(),
		status: PollStatus{Status: PollIdle},
	}
}

// Status returns the latest observation.
func (p *GenerationPoller) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Start begins a new generation session. The returned channel closes when polling ends.
func (p *GenerationPoller) Start(ctx context.Context) (<-chan PollStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.Status == PollPolling {
		return nil, ErrPollerRunning
	}
	p.startedAt = p.cfg.Now()
	p.status = PollStatus{Status: PollPolling, Message: "Generating your roadmap suggestions..."}
	return p.launchLocked(ctx), nil
}

// Retry re-triggers generation after a timeout and resumes polling.
func (p *GenerationPoller) Retry(ctx context.Context) (<-chan PollStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.Status != PollTimedOut {
		return nil, ErrRetryNotAllowed
	}
	if p.cfg.ResetBudgetOnRetry {
		p.startedAt = p.cfg.Now()
	}
	p.status.Status = PollPolling
	p.status.Error = ""
	p.status.Message = fmt.Sprintf("Retrying roadmap generation (attempt %d)...", p.status.Attempts+1)
	return p.launchLocked(ctx), nil
}

// Stop cancels polling and waits for the loop to exit. Safe to call at any time.
func (p *GenerationPoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mu.Lock()
	if p.status.Status == PollPolling {
		p.status.Status = PollIdle
		p.status.Message = "Roadmap generation polling stopped"
	}
	p.mu.Unlock()
}

func (p *GenerationPoller) launchLocked(parent context.Context) <-chan PollStatus {
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	done := make(chan struct{})
	out := make(chan PollStatus, pollStatusBuffer)

	p.cancel = cancel
	p.done = done
	out <- p.status

	ticker := p.cfg.NewTicker(p.cfg.Interval)
	go p.run(ctx, cancel, ticker, out, done)
	return out
}

func (p *GenerationPoller) run(ctx context.Context, cancel context.CancelFunc, ticker Ticker, out chan<- PollStatus, done chan<- struct{}) {
	defer close(done)
	defer close(out)
	defer ticker.Stop()
	defer cancel()

	go p.kick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			status, ok := p.poll(ctx)
			if !ok {
				return
			}
			select {
			case out <- status:
			case <-ctx.Done():
				return
			}
			if status.Terminal() {
				return
			}
		}
	}
}

// kick fires the generation trigger alongside the poll loop. Failures are tolerated
// because a generation may already be in flight upstream.
func (p *GenerationPoller) kick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.remainingBudget())
	defer cancel()

	result, err := p.source.Generate(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("generation trigger failed; polling anyway")
		return
	}
	p.logger.Debug().Bool("accepted", result.Accepted).Msg("generation triggered")
}

// remainingBudget bounds one upstream call by what is left of the session, floored at one interval.
func (p *GenerationPoller) remainingBudget() time.Duration {
	p.mu.Lock()
	started := p.startedAt
	p.mu.Unlock()
	return p.budgetFrom(started)
}

func (p *GenerationPoller) budgetFrom(started time.Time) time.Duration {
	remaining := p.cfg.Timeout - p.cfg.Now().Sub(started)
	if remaining < p.cfg.Interval {
		remaining = p.cfg.Interval
	}
	return remaining
}

func (p *GenerationPoller) poll(ctx context.Context) (PollStatus, bool) {
	p.mu.Lock()
	p.status.Attempts++
	attempt := p.status.Attempts
	started := p.startedAt
	p.mu.Unlock()

	pollCtx, cancel := context.WithTimeout(ctx, p.budgetFrom(started))
	current, err := p.source.Current(pollCtx)
	cancel()

	if ctx.Err() != nil {
		return PollStatus{}, false
	}

	elapsed := p.cfg.Now().Sub(started)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.ElapsedSeconds = int(elapsed.Seconds())

	if err == nil {
		if suggestions := NormalizeSuggestionsJSON(current.Raw); len(suggestions) > 0 {
			observability.PollAttempts().WithLabelValues("ready").Inc()
			observability.GenerationSessions().WithLabelValues(string(PollReady)).Inc()
			p.status.Status = PollReady
			p.status.Error = ""
			p.status.Message = "Your roadmap suggestions are ready"
			status := p.status
			status.Suggestions = suggestions
			status.Current = &current
			return status, true
		}
		observability.PollAttempts().WithLabelValues("pending").Inc()
		p.status.Error = ""
		p.status.Message = fmt.Sprintf("Generating your roadmap suggestions... (check %d)", attempt)
	} else {
		observability.PollAttempts().WithLabelValues("error").Inc()
		p.logger.Warn().Err(err).Int("attempt", attempt).Msg("roadmap poll failed")
		p.status.Error = err.Error()
		p.status.Message = fmt.Sprintf("Still generating (check %d), last check failed", attempt)
		if errors.Is(err, careerapi.ErrMissingCredential) {
			p.status.Message = "Sign in again to continue generating your roadmap"
		}
	}

	if elapsed >= p.cfg.Timeout {
		observability.GenerationSessions().WithLabelValues(string(PollTimedOut)).Inc()
		p.status.Status = PollTimedOut
		p.status.Error = timeoutMessage
		p.status.Message = timeoutMessage
	}
	return p.status, true
}
