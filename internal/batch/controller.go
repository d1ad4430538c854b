// Package batch owns the per-category job collection, the job state machine
// and the sequential compression run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/preview"
	"media-compressor-go/internal/probe"
	"media-compressor-go/internal/resource"
	"media-compressor-go/internal/statistics"
)

// MetadataProber extracts metadata for time-based sources.
type MetadataProber interface {
	Probe(ctx context.Context, category media.Category, src media.SourceFile) (*probe.Metadata, error)
}

// PreviewGenerator renders a preview file for a source.
type PreviewGenerator interface {
	Generate(ctx context.Context, category media.Category, src media.SourceFile) (string, error)
}

// Saver persists a compressed output under a suggested file name.
type Saver interface {
	Save(ctx context.Context, name string, r io.Reader) error
}

// Options configures a Controller.
type Options struct {
	Category media.Category
	Accept   media.AcceptSet
	MaxSize  int
	Quality  media.Quality
	// JobTimeout bounds a single compression; zero means no limit.
	JobTimeout time.Duration
	// ProbeTimeout bounds a single metadata probe; zero means no limit.
	ProbeTimeout time.Duration
}

// Deps are the collaborators of a Controller. Prober, Previewer, Events and
// Stats are optional.
type Deps struct {
	Strategy  compressor.Strategy
	Registry  *resource.Registry
	Prober    MetadataProber
	Previewer PreviewGenerator
	Events    *EventBus
	Stats     *statistics.Statistics
	Logger    *logrus.Logger
}

// AdmissionResult describes a successful admission.
type AdmissionResult struct {
	Admitted    []Snapshot
	Unsupported []string
}

// Controller manages the batch of one category.
type Controller struct {
	opts     Options
	strategy compressor.Strategy
	registry *resource.Registry
	prober   MetadataProber
	preview  PreviewGenerator
	events   *EventBus
	stats    *statistics.Statistics
	logger   *logrus.Logger

	mu      sync.Mutex
	jobs    []*Job
	quality media.Quality
	running bool
	closed  bool
	runs    sync.WaitGroup

	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewController returns a Controller for opts.Category.
func NewController(opts Options, deps Deps) (*Controller, error) {
	if deps.Strategy == nil {
		return nil, fmt.Errorf("%s controller needs a compression strategy", opts.Category)
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("%s controller needs a resource registry", opts.Category)
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 3
	}
	if opts.Quality == "" {
		opts.Quality = media.QualityMedium
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Stats == nil {
		deps.Stats = statistics.NewStatistics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:     opts,
		strategy: deps.Strategy,
		registry: deps.Registry,
		prober:   deps.Prober,
		preview:  deps.Previewer,
		events:   deps.Events,
		stats:    deps.Stats,
		logger:   deps.Logger,
		quality:  opts.Quality,
		bgCtx:    ctx,
		bgCancel: cancel,
	}, nil
}

// Category returns the category this controller is scoped to.
func (c *Controller) Category() media.Category { return c.opts.Category }

// MaxSize returns the batch limit.
func (c *Controller) MaxSize() int { return c.opts.MaxSize }

// Quality returns the tier used by the next run.
func (c *Controller) Quality() media.Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// SetQuality selects the tier used by subsequent runs.
func (c *Controller) SetQuality(q media.Quality) {
	c.mu.Lock()
	c.quality = q
	c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{
		"category": c.opts.Category,
		"quality":  q,
	}).Info("Quality tier changed")
}

// Admit filters files by the accepted media types and appends one Pending job
// per accepted file. If the accepted files do not fit, nothing is admitted and
// a *CapacityError is returned. Admit consumes every source handle: admitted
// handles move to their job, all others are released.
func (c *Controller) Admit(files []media.SourceFile) (*AdmissionResult, error) {
	c.stats.AddFilesSubmitted(len(files))

	var accepted []media.SourceFile
	res := &AdmissionResult{}
	for _, f := range files {
		if c.opts.Accept.Accepts(f.MediaType) {
			accepted = append(accepted, f)
			continue
		}
		res.Unsupported = append(res.Unsupported, f.Name)
		c.registry.Release(f.Handle)
		c.logger.WithFields(logrus.Fields{
			"category":   c.opts.Category,
			"file":       f.Name,
			"media_type": f.MediaType,
		}).Debug("Dropped unsupported file")
	}
	c.stats.AddFilesUnsupported(len(res.Unsupported))

	c.mu.Lock()
	current := len(c.jobs)
	if current+len(accepted) > c.opts.MaxSize {
		c.mu.Unlock()
		for _, f := range accepted {
			c.registry.Release(f.Handle)
		}
		capErr := &CapacityError{
			Category:  c.opts.Category,
			Limit:     c.opts.MaxSize,
			Current:   current,
			Requested: len(accepted),
		}
		c.stats.IncrementAdmissionsRejected()
		c.publish(Event{Type: EventRejected, Message: capErr.Error()})
		c.logger.WithField("category", c.opts.Category).Warn(capErr.Error())
		return nil, capErr
	}

	jobs := make([]*Job, 0, len(accepted))
	for _, f := range accepted {
		job := newJob(uuid.NewString(), c.opts.Category, f)
		c.jobs = append(c.jobs, job)
		jobs = append(jobs, job)
		res.Admitted = append(res.Admitted, job.snapshot())
	}
	c.mu.Unlock()

	c.stats.AddFilesAdmitted(c.opts.Category.String(), len(jobs))
	for i, job := range jobs {
		snap := res.Admitted[i]
		c.publish(Event{Type: EventAdmitted, JobID: job.ID, State: StatePending, Job: &snap})
		logger.WithJob(c.logger, c.opts.Category.String(), job.ID).
			WithField("file", job.Source.Name).Info("Job admitted")
		c.enrich(job.ID, job.Source)
	}
	return res, nil
}

// enrich renders a preview and probes metadata in the background. Results for
// a job removed in the meantime are discarded.
func (c *Controller) enrich(id string, src media.SourceFile) {
	needPreview := c.preview != nil
	needProbe := c.prober != nil && c.opts.Category.IsTimeBased()
	if !needPreview && !needProbe {
		return
	}

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		log := logger.WithJob(c.logger, c.opts.Category.String(), id)

		if needPreview {
			ctx, cancel := c.stepContext()
			path, err := c.preview.Generate(ctx, c.opts.Category, src)
			cancel()
			switch {
			case err == nil:
				c.attachPreview(id, c.registry.Register(path))
			case !errors.Is(err, preview.ErrNoPreview):
				log.Debugf("Preview failed: %v", err)
			}
		}

		if needProbe {
			ctx, cancel := c.stepContext()
			md, err := c.prober.Probe(ctx, c.opts.Category, src)
			cancel()
			if err != nil {
				c.stats.IncrementProbeFailures()
				log.Warnf("Metadata probe failed: %v", err)
				return
			}
			c.attachMetadata(id, md)
		}
	}()
}

// stepContext bounds one background preview or probe by ProbeTimeout.
func (c *Controller) stepContext() (context.Context, context.CancelFunc) {
	if c.opts.ProbeTimeout > 0 {
		return context.WithTimeout(c.bgCtx, c.opts.ProbeTimeout)
	}
	return context.WithCancel(c.bgCtx)
}

func (c *Controller) attachPreview(id string, token resource.Token) {
	c.mu.Lock()
	job := c.find(id)
	if job == nil {
		c.mu.Unlock()
		c.registry.Release(token)
		logger.WithJob(c.logger, c.opts.Category.String(), id).Debug("Discarded preview for removed job")
		return
	}
	old := job.preview
	job.preview = token
	snap := job.snapshot()
	c.mu.Unlock()

	c.registry.Release(old)
	c.publish(Event{Type: EventPreview, JobID: id, State: snap.State, Job: &snap})
}

func (c *Controller) attachMetadata(id string, md *probe.Metadata) {
	c.mu.Lock()
	job := c.find(id)
	if job == nil {
		c.mu.Unlock()
		logger.WithJob(c.logger, c.opts.Category.String(), id).Debug("Discarded metadata for removed job")
		return
	}
	job.metadata = md
	snap := job.snapshot()
	c.mu.Unlock()

	c.publish(Event{Type: EventMetadata, JobID: id, State: snap.State, Job: &snap})
}

// Remove deletes a job and releases its handles. Unknown ids are a no-op;
// a Processing job cannot be removed.
func (c *Controller) Remove(id string) error {
	c.mu.Lock()
	idx := c.index(id)
	if idx < 0 {
		c.mu.Unlock()
		return nil
	}
	job := c.jobs[idx]
	if job.state == StateProcessing {
		c.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrJobProcessing)
	}
	c.jobs = append(c.jobs[:idx], c.jobs[idx+1:]...)
	c.mu.Unlock()

	c.releaseJob(job)
	c.stats.IncrementJobsRemoved()
	c.publish(Event{Type: EventRemoved, JobID: id})
	logger.WithJob(c.logger, c.opts.Category.String(), id).Info("Job removed")
	return nil
}

// Clear removes every job that is not Processing and returns how many were removed.
func (c *Controller) Clear() int {
	c.mu.Lock()
	var kept, removed []*Job
	for _, job := range c.jobs {
		if job.state == StateProcessing {
			kept = append(kept, job)
		} else {
			removed = append(removed, job)
		}
	}
	c.jobs = kept
	c.mu.Unlock()

	for _, job := range removed {
		c.releaseJob(job)
		c.stats.IncrementJobsRemoved()
		c.publish(Event{Type: EventRemoved, JobID: job.ID})
	}
	return len(removed)
}

func (c *Controller) releaseJob(job *Job) {
	for _, t := range job.handles() {
		c.registry.Release(t)
	}
}

// RunCompression compresses every Pending job one at a time, in batch order.
// Terminal jobs are skipped. A failed job never stops the run. When ctx is
// cancelled the job in flight fails and ctx.Err() is returned.
func (c *Controller) RunCompression(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return ErrRunInProgress
	}
	c.running = true
	c.runs.Add(1)
	tier := c.quality
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.runs.Done()
	}()

	start := time.Now()
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, src, ok := c.nextPending()
		if !ok {
			break
		}
		c.process(ctx, id, src, tier)
		processed++
	}

	if processed > 0 {
		c.logger.WithFields(logrus.Fields{
			"category": c.opts.Category,
			"quality":  tier,
			"jobs":     processed,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Info("Compression run finished")
	}
	return ctx.Err()
}

// nextPending moves the first Pending job to Processing.
func (c *Controller) nextPending() (string, media.SourceFile, bool) {
	c.mu.Lock()
	var job *Job
	for _, j := range c.jobs {
		if j.state == StatePending {
			job = j
			break
		}
	}
	if job == nil {
		c.mu.Unlock()
		return "", media.SourceFile{}, false
	}
	if err := job.transition(StateProcessing); err != nil {
		c.mu.Unlock()
		c.logger.Errorf("Job %s: %v", job.ID, err)
		return "", media.SourceFile{}, false
	}
	id, src := job.ID, job.Source
	c.mu.Unlock()

	c.publish(Event{Type: EventState, JobID: id, State: StateProcessing})
	return id, src, true
}

func (c *Controller) process(ctx context.Context, id string, src media.SourceFile, tier media.Quality) {
	log := logger.WithJob(c.logger, c.opts.Category.String(), id).WithField("file", src.Name)
	log.WithField("quality", tier).Info("Compressing")

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.opts.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, c.opts.JobTimeout)
	}
	out, err := c.compress(jobCtx, src, tier)
	cancel()

	if err != nil {
		log.Errorf("Compression failed: %v", err)
		c.finish(id, nil, err.Error())
		return
	}

	res := &Result{
		CompressedSize: out.Size,
		SavingsPercent: compressor.SavingsPercent(src.Size, out.Size),
		Extension:      out.Extension,
		MediaType:      out.MediaType,
		Output:         c.registry.Register(out.Path),
	}
	log.WithFields(logrus.Fields{
		"original":   src.Size,
		"compressed": out.Size,
		"savings":    compressor.FormatSavings(res.SavingsPercent),
	}).Info("Compression completed")
	c.finish(id, res, "")
}

// compress calls the strategy, turning a panic into an error.
func (c *Controller) compress(ctx context.Context, src media.SourceFile, tier media.Quality) (out *compressor.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("compression panic: %v", r)
		}
	}()
	out, err = c.strategy.Compress(ctx, src, tier)
	if err == nil && out == nil {
		err = errors.New("strategy returned no output")
	}
	return out, err
}

func (c *Controller) finish(id string, res *Result, reason string) {
	c.mu.Lock()
	job := c.find(id)
	if job == nil {
		c.mu.Unlock()
		if res != nil {
			c.registry.Release(res.Output)
		}
		return
	}
	var err error
	if res != nil {
		err = job.complete(res)
	} else {
		err = job.fail(reason)
	}
	snap := job.snapshot()
	c.mu.Unlock()

	if err != nil {
		c.logger.Errorf("Job %s: %v", id, err)
		if res != nil {
			c.registry.Release(res.Output)
		}
		return
	}

	if res != nil {
		c.stats.RecordCompleted(c.opts.Category.String(), snap.OriginalSize, res.CompressedSize)
	} else {
		c.stats.RecordFailed(c.opts.Category.String(), snap.Name, reason)
	}
	c.publish(Event{Type: EventState, JobID: id, State: snap.State, Message: reason, Job: &snap})
}

// ListJobs returns snapshots of every job in batch order.
func (c *Controller) ListJobs() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, len(c.jobs))
	for i, job := range c.jobs {
		out[i] = job.snapshot()
	}
	return out
}

// Get returns a snapshot of one job.
func (c *Controller) Get(id string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job := c.find(id)
	if job == nil {
		return Snapshot{}, ErrJobNotFound
	}
	return job.snapshot(), nil
}

// Len returns the number of jobs in the batch.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// Running reports whether a compression run is in progress.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// PreviewPath returns the preview file of a job, if one was rendered.
func (c *Controller) PreviewPath(id string) (string, error) {
	c.mu.Lock()
	job := c.find(id)
	if job == nil {
		c.mu.Unlock()
		return "", ErrJobNotFound
	}
	token := job.preview
	c.mu.Unlock()

	path, ok := c.registry.Path(token)
	if !ok {
		return "", preview.ErrNoPreview
	}
	return path, nil
}

// DownloadOne saves the output of a Completed job. For any other state it
// does nothing and reports false.
func (c *Controller) DownloadOne(ctx context.Context, id string, saver Saver) (bool, error) {
	c.mu.Lock()
	job := c.find(id)
	if job == nil {
		c.mu.Unlock()
		return false, ErrJobNotFound
	}
	if job.state != StateCompleted {
		c.mu.Unlock()
		return false, nil
	}
	name := SuggestedFilename(job.Source, job.result.Extension)
	token := job.result.Output
	c.mu.Unlock()

	if err := c.save(ctx, token, name, saver); err != nil {
		return false, err
	}
	return true, nil
}

// DownloadCompleted saves every Completed job in batch order and returns how
// many were saved. Failed jobs are excluded.
func (c *Controller) DownloadCompleted(ctx context.Context, saver Saver) (int, error) {
	type item struct {
		name  string
		token resource.Token
	}
	c.mu.Lock()
	var items []item
	for _, job := range c.jobs {
		if job.state == StateCompleted {
			items = append(items, item{SuggestedFilename(job.Source, job.result.Extension), job.result.Output})
		}
	}
	c.mu.Unlock()

	saved := 0
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		if err := c.save(ctx, it.token, it.name, saver); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

func (c *Controller) save(ctx context.Context, token resource.Token, name string, saver Saver) error {
	path, ok := c.registry.Path(token)
	if !ok {
		return fmt.Errorf("output of %s was released", name)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close()
	if err := saver.Save(ctx, name, f); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Wait blocks until every background preview and probe has finished.
func (c *Controller) Wait() {
	c.bg.Wait()
}

// Close cancels background work, waits for an active run to reach a terminal
// state, then removes every job and releases its handles. Callers cancel the
// run's context first if they do not want to wait for it.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.bgCancel()
	c.bg.Wait()
	c.runs.Wait()

	c.mu.Lock()
	jobs := c.jobs
	c.jobs = nil
	c.mu.Unlock()

	for _, job := range jobs {
		c.releaseJob(job)
	}
}

func (c *Controller) find(id string) *Job {
	if i := c.index(id); i >= 0 {
		return c.jobs[i]
	}
	return nil
}

func (c *Controller) index(id string) int {
	for i, job := range c.jobs {
		if job.ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) publish(e Event) {
	if c.events == nil {
		return
	}
	e.Category = c.opts.Category
	c.events.Publish(e)
}
