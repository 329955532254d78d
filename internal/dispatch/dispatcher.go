// Package dispatch builds translation jobs from candidate units,
// assigns them to providers, and drives the create→send→poll→merge
// lifecycle through the task graph executor.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/loctra/loctra/internal/ops"
	"github.com/loctra/loctra/internal/provider"
	"github.com/loctra/loctra/internal/segment"
	"github.com/loctra/loctra/internal/tm"
	"github.com/loctra/loctra/pkg/log"
)

var (
	// ErrUnitTooLarge means a single unit exceeds the provider's
	// maximum chunk size and can never be dispatched to it.
	ErrUnitTooLarge = errors.New("unit exceeds maximum chunk size")
	// ErrChunkCardinality means a provider returned the wrong number
	// of results for a chunk. This is a contract violation, never
	// retried.
	ErrChunkCardinality = errors.New("chunk result cardinality mismatch")
)

// Dispatcher owns the job lifecycle for one language-pair store.
// Providers are consulted in the order given; earlier providers get
// first pick of candidate units.
type Dispatcher struct {
	store      *tm.Store
	manager    *ops.Manager
	providers  []provider.Provider
	byName     map[string]provider.Provider
	logger     *log.Logger
	now        func() time.Time
	regression bool
	minQuality int
	jobCounter uint64
	updates    singleflight.Group
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger injects the dispatcher's logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock injects the dispatcher's clock.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithRegressionGuids makes job guids a deterministic sequence.
func WithRegressionGuids() Option {
	return func(d *Dispatcher) { d.regression = true }
}

// WithMinQuality drops providers whose declared quality is below the
// configured floor.
func WithMinQuality(q int) Option {
	return func(d *Dispatcher) { d.minQuality = q }
}

// New builds a dispatcher and registers its operation set on the
// manager. The manager must not already carry another dispatcher's
// operations.
func New(store *tm.Store, manager *ops.Manager, providers []provider.Provider, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		store:     store,
		manager:   manager,
		providers: providers,
		byName:    make(map[string]provider.Provider, len(providers)),
		logger:    log.GetLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, p := range providers {
		if _, dup := d.byName[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider %s", p.Name())
		}
		d.byName[p.Name()] = p
	}
	if err := d.registerOps(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) newJobGUID() string {
	if d.regression {
		return fmt.Sprintf("job-%04d", atomic.AddUint64(&d.jobCounter, 1))
	}
	return uuid.NewString()
}

// CreateJobs partitions candidate units across providers. Each unit is
// offered to providers in priority order until one accepts it; a
// provider accepts a unit when it serves the language pair, clears the
// quality floor, and would actually improve on the unit's current
// authoritative translation. Subsets smaller than a provider's minimum
// batch are passed over. Jobs come back in state created; nothing is
// persisted yet.
func (d *Dispatcher) CreateJobs(ctx context.Context, candidates []tm.Unit) ([]tm.JobRequest, error) {
	remaining := candidates
	jobs := make([]tm.JobRequest, 0)

	for _, p := range d.providers {
		if len(remaining) == 0 {
			break
		}
		if !provider.SupportsPair(p, d.store.SourceLang(), d.store.TargetLang()) {
			continue
		}
		if d.minQuality > 0 && p.Quality() < d.minQuality {
			d.logger.Debug("createJobs: provider %s below quality floor (%d < %d)", p.Name(), p.Quality(), d.minQuality)
			continue
		}

		accepted := make([]tm.Unit, 0, len(remaining))
		rejected := make([]tm.Unit, 0)
		for _, u := range remaining {
			existing, err := d.store.GetEntryByGUID(ctx, u.GUID)
			if err != nil {
				return nil, fmt.Errorf("lookup %s: %w", u.GUID, err)
			}
			if existing != nil && !existing.InFlight() && existing.Quality >= p.Quality() {
				rejected = append(rejected, u)
				continue
			}
			accepted = append(accepted, u)
		}
		if min := p.Limits().MinBatch; min > 0 && len(accepted) < min {
			d.logger.Debug("createJobs: %d units below min batch %d for %s", len(accepted), min, p.Name())
			continue
		}
		if len(accepted) == 0 {
			continue
		}

		jobs = append(jobs, tm.JobRequest{
			JobGUID:    d.newJobGUID(),
			SourceLang: d.store.SourceLang(),
			TargetLang: d.store.TargetLang(),
			Provider:   p.Name(),
			Units:      accepted,
		})
		remaining = rejected
	}

	if len(remaining) > 0 {
		d.logger.Info("createJobs: %d units not accepted by any provider", len(remaining))
	}
	return jobs, nil
}

// StartJobs persists each request and executes its translate task.
// Failures are reported per job; one failing provider does not stop
// the others. The first error is returned after all jobs ran.
func (d *Dispatcher) StartJobs(ctx context.Context, reqs []tm.JobRequest) error {
	var firstErr error
	for i := range reqs {
		if err := d.startJob(ctx, reqs[i]); err != nil {
			d.logger.Error("startJobs: job %s (%s): %v", reqs[i].JobGUID, reqs[i].Provider, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Dispatcher) startJob(ctx context.Context, req tm.JobRequest) error {
	p, ok := d.byName[req.Provider]
	if !ok {
		return fmt.Errorf("unknown provider %s", req.Provider)
	}
	d.checkSourceLanguage(req)

	chunks, err := chunkUnits(req.Units, p.Limits())
	if err != nil {
		return err
	}

	if err := d.store.SaveJob(ctx, tm.Job{
		JobGUID:  req.JobGUID,
		Status:   tm.StatusReq,
		Provider: req.Provider,
	}); err != nil {
		return fmt.Errorf("persist request: %w", err)
	}

	resp, err := d.runChunkTask(ctx, translateTaskName(req.JobGUID), opTranslateChunk, opMergeTranslated, req, p, chunks)
	if err != nil {
		if berr := d.store.SaveJob(ctx, tm.Job{
			JobGUID:  req.JobGUID,
			Status:   tm.StatusBlocked,
			Provider: req.Provider,
		}); berr != nil {
			d.logger.Error("startJob: mark %s blocked: %v", req.JobGUID, berr)
		}
		return err
	}
	if resp == nil {
		return fmt.Errorf("job %s: provider returned no response", req.JobGUID)
	}
	if err := d.store.ProcessJob(ctx, *resp, req); err != nil {
		return fmt.Errorf("merge response: %w", err)
	}
	d.logger.Info("job %s (%s): %s, %d translated, %d in flight",
		req.JobGUID, req.Provider, resp.Status, len(resp.Units), len(resp.InFlight))
	return nil
}

// checkSourceLanguage warns when the dominant detected language of a
// request's source text disagrees with the declared source language.
// Detection is advisory only.
func (d *Dispatcher) checkSourceLanguage(req tm.JobRequest) {
	var sample string
	for _, u := range req.Units {
		sample += segment.Flatten(u.Source) + "\n"
		if len(sample) > 2048 {
			break
		}
	}
	info := whatlanggo.Detect(sample)
	if !info.IsReliable() {
		return
	}
	detected := info.Lang.Iso6391()
	declared, _ := req.SourceLang.Base()
	if detected != "" && detected != declared.String() {
		d.logger.Warn("job %s: declared source %s but text looks like %s", req.JobGUID, req.SourceLang, detected)
	}
}

// UpdateJobs runs one fetch pass over every pending job. Concurrent
// callers (cron ticks, manual runs) collapse into a single pass.
func (d *Dispatcher) UpdateJobs(ctx context.Context) error {
	_, err, _ := d.updates.Do("update", func() (any, error) {
		pending, err := d.store.ListJobs(ctx, tm.StatusPending)
		if err != nil {
			return nil, fmt.Errorf("list pending jobs: %w", err)
		}
		var firstErr error
		for _, job := range pending {
			if err := d.UpdateJob(ctx, job.JobGUID); err != nil {
				d.logger.Error("updateJobs: job %s: %v", job.JobGUID, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return nil, firstErr
	})
	return err
}

// UpdateJob polls one pending job. The request is reconstructed from
// the store (the q=0 placeholder rows carry everything needed), so an
// update pass works even in a fresh process. A provider with nothing
// new leaves the job pending; that is not an error.
func (d *Dispatcher) UpdateJob(ctx context.Context, jobGUID string) error {
	job, err := d.store.GetJob(ctx, jobGUID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("unknown job %s", jobGUID)
	}
	if job.Status != tm.StatusPending {
		return fmt.Errorf("job %s is %s, not pending", jobGUID, job.Status)
	}
	p, ok := d.byName[job.Provider]
	if !ok {
		return fmt.Errorf("unknown provider %s", job.Provider)
	}

	units, err := d.store.GetJobUnits(ctx, jobGUID)
	if err != nil {
		return fmt.Errorf("load job units: %w", err)
	}
	pendingUnits := make([]tm.Unit, 0, len(units))
	for _, u := range units {
		if u.InFlight() {
			pendingUnits = append(pendingUnits, u)
		}
	}
	if len(pendingUnits) == 0 {
		d.logger.Warn("job %s pending with no in-flight units", jobGUID)
		return nil
	}

	req := tm.JobRequest{
		JobGUID:    jobGUID,
		SourceLang: d.store.SourceLang(),
		TargetLang: d.store.TargetLang(),
		Provider:   job.Provider,
		Units:      units,
	}
	chunks, err := chunkUnits(pendingUnits, p.Limits())
	if err != nil {
		return err
	}

	resp, err := d.runChunkTask(ctx, fetchTaskName(jobGUID), opFetchChunk, opMergeFetched, req, p, chunks)
	if err != nil {
		// fetch leaves are idempotent, so their checkpoints can be
		// dropped. Keeping them would replay a bad provider response
		// under the same task name on every pass and the job could
		// never leave pending.
		if cerr := d.store.ClearTask(ctx, fetchTaskName(jobGUID)); cerr != nil {
			d.logger.Error("updateJob: clear fetch task %s: %v", jobGUID, cerr)
		}
		return err
	}
	if resp == nil {
		d.logger.Debug("job %s: nothing new, still pending", jobGUID)
		return nil
	}
	if err := d.store.ProcessJob(ctx, *resp, req); err != nil {
		return fmt.Errorf("merge response: %w", err)
	}
	d.logger.Info("job %s (%s): %s, %d translated, %d still in flight",
		jobGUID, job.Provider, resp.Status, len(resp.Units), len(resp.InFlight))
	return nil
}

func translateTaskName(jobGUID string) string { return "translate-" + jobGUID }
func fetchTaskName(jobGUID string) string     { return "fetch-" + jobGUID }

// Languages reports the dispatcher's pair, mirroring the store.
func (d *Dispatcher) Languages() (source, target language.Tag) {
	return d.store.SourceLang(), d.store.TargetLang()
}
