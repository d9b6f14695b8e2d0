package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sanchay-T/influencer-platform/merge"
	"github.com/Sanchay-T/influencer-platform/model"
)

// PollState is the lifecycle state of a Poller
type PollState int32

const (
	StateIdle PollState = iota
	StatePolling
	StateStopped
)

func (s PollState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Polling cadence by progress band. Early chunks land quickly, the tail
// of a large job does not, so the interval stretches as progress climbs.
const (
	fastInterval = 1500 * time.Millisecond
	midInterval  = 2 * time.Second
	slowInterval = 3 * time.Second

	fastBand = 70.0
	slowBand = 95.0
)

// progressCap bounds the time-based estimate so a job that never reports
// counts still shows motion without ever claiming it finished.
const progressCap = 99.0

// ErrPollerBusy is returned by Start when a poll loop is already running.
var ErrPollerBusy = errors.New("poller already running")

// Snapshot is what the poller hands to its observer after every cycle
type Snapshot struct {
	Job      JobStatusPayload
	Progress float64 // percent, 0-100
	Creators []model.CreatorRecord
	Done     bool
	Err      error
}

// PollerOptions configures a Poller
type PollerOptions struct {
	Client       StatusFetcher
	OnUpdate     func(Snapshot)
	PlatformHint string

	// Limit is the results window requested each cycle. Defaults to 1000
	// so a normal job's full set arrives without the auto fetcher.
	Limit int

	// MaxRetries bounds consecutive failed cycles before the poller gives
	// up and reports a terminal error. Defaults to 5.
	MaxRetries int

	// BackoffBase is the first retry delay; it doubles per consecutive
	// failure. Defaults to 500ms.
	BackoffBase time.Duration
}

// Poller drives the status endpoint at an adaptive interval, merging each
// cycle's creators into a stable accumulated view.
type Poller struct {
	client       StatusFetcher
	onUpdate     func(Snapshot)
	platformHint string
	limit        int
	maxRetries   int
	backoffBase  time.Duration

	mu       sync.Mutex
	state    PollState
	cancel   context.CancelFunc
	done     chan struct{}
	creators []model.CreatorRecord

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) bool
}

// NewPoller creates an idle poller. Start begins a poll loop for one job.
func NewPoller(opts PollerOptions) *Poller {
	if opts.Limit <= 0 {
		opts.Limit = 1000
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	return &Poller{
		client:       opts.Client,
		onUpdate:     opts.OnUpdate,
		platformHint: opts.PlatformHint,
		limit:        opts.Limit,
		maxRetries:   opts.MaxRetries,
		backoffBase:  opts.BackoffBase,
		state:        StateIdle,
		now:          time.Now,
		wait:         sleepCtx,
	}
}

// SetClock overrides the poller's time source for tests
func (p *Poller) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// State reports the current lifecycle state
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Creators returns the accumulated, merged view as of the latest cycle
func (p *Poller) Creators() []model.CreatorRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.CreatorRecord, len(p.creators))
	copy(out, p.creators)
	return out
}

// Start begins polling the given job. It returns ErrPollerBusy if a loop is
// already running; a stopped poller can be started again for another job.
func (p *Poller) Start(ctx context.Context, jobID string) error {
	p.mu.Lock()
	if p.state == StatePolling {
		p.mu.Unlock()
		return ErrPollerBusy
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.state = StatePolling
	p.cancel = cancel
	p.done = make(chan struct{})
	p.creators = nil
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.loop(loopCtx, jobID)
	}()
	return nil
}

// Stop ends the poll loop and waits for it to exit. Safe to call from any
// state and more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, jobID string) {
	defer p.setState(StateStopped)

	started := p.clockNow()
	failures := 0

	for {
		resp, err := p.client.FetchStatus(ctx, jobID, 0, p.limit)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			log.Warn().Err(err).Str("job_id", jobID).Int("failures", failures).Msg("Status poll failed")
			if failures > p.maxRetries {
				p.emit(Snapshot{Err: fmt.Errorf("polling gave up after %d attempts: %w", failures, err)})
				return
			}
			if !p.wait(ctx, p.backoffBase<<(failures-1)) {
				return
			}
			continue
		}
		failures = 0

		merged := p.accumulate(resp.Creators())
		progress := resolveProgress(resp.Job, p.clockNow().Sub(started))

		switch resp.Job.Status {
		case string(model.JobStatusCompleted):
			p.emit(Snapshot{Job: resp.Job, Progress: 100, Creators: merged, Done: true})
			return
		case string(model.JobStatusError), string(model.JobStatusTimeout):
			jobErr := resp.Job.Error
			if jobErr == "" {
				jobErr = "job ended with status " + resp.Job.Status
			}
			p.emit(Snapshot{Job: resp.Job, Progress: progress, Creators: merged, Err: errors.New(jobErr)})
			return
		}

		p.emit(Snapshot{Job: resp.Job, Progress: progress, Creators: merged})

		if !p.wait(ctx, intervalFor(progress)) {
			return
		}
	}
}

func (p *Poller) accumulate(incoming []model.CreatorRecord) []model.CreatorRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creators = merge.Merge(p.creators, incoming, p.platformHint)
	out := make([]model.CreatorRecord, len(p.creators))
	copy(out, p.creators)
	return out
}

func (p *Poller) emit(s Snapshot) {
	if p.onUpdate != nil {
		p.onUpdate(s)
	}
}

func (p *Poller) setState(s PollState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Poller) clockNow() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// intervalFor picks the next poll delay from the progress band
func intervalFor(progress float64) time.Duration {
	switch {
	case progress < fastBand:
		return fastInterval
	case progress > slowBand:
		return slowInterval
	default:
		return midInterval
	}
}

// resolveProgress prefers the server's explicit figure, then the processed
// over target ratio, then an asymptotic estimate from elapsed time. Only the
// time-based estimate is capped below 100; explicit and derived figures may
// legitimately reach it.
func resolveProgress(job JobStatusPayload, elapsed time.Duration) float64 {
	if job.Progress != nil {
		return clampPercent(*job.Progress)
	}
	if job.TargetResults > 0 {
		return clampPercent(100 * float64(job.ProcessedResults) / float64(job.TargetResults))
	}
	// Approaches progressCap as elapsed grows, never reaches 100.
	estimated := progressCap * (1 - math.Exp(-elapsed.Seconds()/45))
	if estimated < 0 {
		return 0
	}
	return estimated
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
