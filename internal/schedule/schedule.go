// Package schedule keeps at most one pending delayed-publish job per
// user. A new job for the same user supersedes the old one; cancelling
// is reliable up to the moment the publish call begins, never past it.
package schedule

import (
	"context"
	"sync"
	"time"

	"postbot/pkg/logx"
)

// PublishFunc performs the deferred publish. Callers capture the draft
// snapshot in the closure, so the registry never sees payload types.
type PublishFunc func(ctx context.Context) error

type Config struct {
	// PublishTimeout bounds the transport call at fire time. Zero
	// means no bound.
	PublishTimeout time.Duration

	// Now is the injected clock; nil means time.Now.
	Now func() time.Time
}

type job struct {
	userID  int64
	at      time.Time
	cancel  chan struct{}
	publish PublishFunc

	// guarded by Registry.mu
	fired     bool
	cancelled bool
}

type Registry struct {
	mu   sync.Mutex
	jobs map[int64]*job

	cfg Config
	log logx.Logger

	runCtx context.Context
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Registry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		jobs: map[int64]*job{},
		cfg:  cfg,
		log:  log,
	}
}

// Start binds the registry to its run context. Jobs scheduled before
// Start use context.Background.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()
}

// Schedule registers a delayed publish for userID, superseding any
// pending job. A target in the past fires immediately. Returns the
// target instant for operator confirmation.
func (r *Registry) Schedule(userID int64, at time.Time, publish PublishFunc) time.Time {
	if r.Cancel(userID) {
		r.log.Debug("pending job superseded", logx.Int64("user", userID))
	}

	j := &job{
		userID:  userID,
		at:      at,
		cancel:  make(chan struct{}),
		publish: publish,
	}

	delay := at.Sub(r.cfg.Now())
	if delay < 0 {
		delay = 0
	}

	r.mu.Lock()
	r.jobs[userID] = j
	ctx := r.runCtx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	r.wg.Add(1)
	go r.run(ctx, j, delay)

	r.log.Info("publish scheduled",
		logx.Int64("user", userID),
		logx.Time("at", at),
		logx.Duration("delay", delay),
	)
	return at
}

// Cancel removes the user's pending job if one exists and has not
// started firing. Reports whether a job was actually cancelled.
func (r *Registry) Cancel(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := r.jobs[userID]
	if j == nil || j.fired {
		return false
	}
	j.cancelled = true
	close(j.cancel)
	delete(r.jobs, userID)
	return true
}

// Peek returns the target instant of the user's pending job, if any.
func (r *Registry) Peek(userID int64) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j := r.jobs[userID]; j != nil && !j.fired {
		return j.at, true
	}
	return time.Time{}, false
}

// Stop cancels every pending job and waits for in-flight fire bodies,
// bounded by ctx.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	for id, j := range r.jobs {
		if !j.fired && !j.cancelled {
			j.cancelled = true
			close(j.cancel)
		}
		delete(r.jobs, id)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("scheduler stop deadline reached")
	}
}

func (r *Registry) run(ctx context.Context, j *job, delay time.Duration) {
	defer r.wg.Done()

	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-j.cancel:
		return
	case <-ctx.Done():
		return
	case <-t.C:
	}

	// Point of no return: claim the job before touching the
	// transport. A cancel that lost this race is a no-op.
	if !r.claim(j) {
		return
	}

	pctx := ctx
	if r.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, r.cfg.PublishTimeout)
		defer cancel()
	}

	err := j.publish(pctx)
	r.retire(j)

	if err != nil {
		r.log.Warn("scheduled publish failed",
			logx.Int64("user", j.userID),
			logx.Time("at", j.at),
			logx.Err(err),
		)
	} else {
		r.log.Info("scheduled publish done",
			logx.Int64("user", j.userID),
			logx.Time("at", j.at),
		)
	}
}

// claim marks j as firing. It fails when the job was cancelled or
// superseded between the timer elapsing and this call.
func (r *Registry) claim(j *job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j.cancelled || r.jobs[j.userID] != j {
		return false
	}
	j.fired = true
	return true
}

func (r *Registry) retire(j *job) {
	r.mu.Lock()
	if r.jobs[j.userID] == j {
		delete(r.jobs, j.userID)
	}
	r.mu.Unlock()
}
