package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/probe"
	"media-compressor-go/internal/resource"
	"media-compressor-go/internal/statistics"
)

var acceptTypes = map[media.Category][]string{
	media.CategoryImage: {"image/*"},
	media.CategoryPDF:   {"application/pdf"},
	media.CategoryAudio: {"audio/mpeg"},
	media.CategoryVideo: {"video/mp4"},
}

type fakeStrategy struct {
	ws      *resource.Workspace
	size    int64
	block   chan struct{}
	started chan string
	panicOn string

	mu    sync.Mutex
	calls []string
}

func (f *fakeStrategy) Compress(ctx context.Context, src media.SourceFile, tier media.Quality) (*compressor.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, src.Name)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- src.Name
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if src.Name == f.panicOn {
		panic("decoder exploded")
	}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, []byte("malformed")) {
		return nil, &compressor.CompressionError{Category: media.CategoryPDF, Source: src.Name, Err: errors.New("cannot parse document")}
	}

	ext := src.Ext()
	path, err := f.ws.NewFile("out", ext)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data[:len(data)/2], 0644); err != nil {
		return nil, err
	}
	size := int64(len(data) / 2)
	if f.size > 0 {
		size = f.size
	}
	return &compressor.Output{Path: path, Size: size, Extension: ext, MediaType: src.MediaType}, nil
}

func (f *fakeStrategy) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	t        *testing.T
	ws       *resource.Workspace
	registry *resource.Registry
	events   *EventBus
	stats    *statistics.Statistics
	strategy *fakeStrategy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ws, err := resource.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	return &fixture{
		t:        t,
		ws:       ws,
		registry: resource.NewRegistry(logger.Discard()),
		events:   NewEventBus(0),
		stats:    statistics.NewStatistics(),
		strategy: &fakeStrategy{ws: ws},
	}
}

func (f *fixture) controller(cat media.Category, deps Deps) *Controller {
	f.t.Helper()
	deps.Strategy = f.strategy
	deps.Registry = f.registry
	deps.Events = f.events
	deps.Stats = f.stats
	deps.Logger = logger.Discard()
	c, err := NewController(Options{
		Category: cat,
		Accept:   media.NewAcceptSet(acceptTypes[cat]),
		MaxSize:  3,
	}, deps)
	if err != nil {
		f.t.Fatalf("NewController: %v", err)
	}
	f.t.Cleanup(c.Close)
	return c
}

func (f *fixture) source(name, mediaType, content string) media.SourceFile {
	f.t.Helper()
	path := filepath.Join(f.t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		f.t.Fatal(err)
	}
	return media.SourceFile{Name: name, Path: path, MediaType: mediaType, Size: int64(len(content))}
}

func (f *fixture) images(n int) []media.SourceFile {
	out := make([]media.SourceFile, n)
	for i := range out {
		out[i] = f.source(fmt.Sprintf("img%d.jpg", i), "image/jpeg", "jpeg-bytes-0123456789")
	}
	return out
}

func checkExclusivity(t *testing.T, jobs []Snapshot) {
	t.Helper()
	for _, j := range jobs {
		if (j.Result != nil) != (j.State == StateCompleted) {
			t.Errorf("job %s: result present=%v in state %s", j.Name, j.Result != nil, j.State)
		}
		if (j.FailureReason != "") != (j.State == StateFailed) {
			t.Errorf("job %s: failureReason=%q in state %s", j.Name, j.FailureReason, j.State)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateProcessing, true},
		{StateProcessing, StateCompleted, true},
		{StateProcessing, StateFailed, true},
		{StatePending, StateCompleted, false},
		{StatePending, StateFailed, false},
		{StateCompleted, StatePending, false},
		{StateFailed, StateProcessing, false},
		{StateCompleted, StateFailed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestJobRejectsTransitionFromTerminal(t *testing.T) {
	j := newJob("j", media.CategoryImage, media.SourceFile{Name: "a.jpg"})
	if err := j.complete(&Result{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed: err = %v", err)
	}
	_ = j.transition(StateProcessing)
	if err := j.fail("boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := j.transition(StateProcessing); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("failed -> processing: err = %v", err)
	}
}

func TestAdmitFourImagesRejected(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryImage, Deps{})

	_, err := c.Admit(f.images(4))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	var capErr *CapacityError
	if !errors.As(err, &capErr) || capErr.Limit != 3 || capErr.Requested != 4 {
		t.Fatalf("capacity error = %+v", capErr)
	}
	if c.Len() != 0 {
		t.Fatalf("batch size = %d, want 0", c.Len())
	}
}

func TestAdmitAllOrNothing(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryImage, Deps{})

	if _, err := c.Admit(f.images(2)); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	extra := f.images(2)
	for i := range extra {
		extra[i].Handle = f.registry.Register(extra[i].Path)
	}
	if _, err := c.Admit(extra); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("second admit err = %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("batch size = %d, want 2", c.Len())
	}
	if f.registry.Outstanding() != 0 {
		t.Fatalf("rejected upload handles leaked: %d", f.registry.Outstanding())
	}
	if _, err := c.Admit(f.images(1)); err != nil {
		t.Fatalf("third admit: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("batch size = %d, want 3", c.Len())
	}
}

func TestAdmitDropsUnsupported(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryImage, Deps{})

	files := append(f.images(3),
		f.source("doc.pdf", "application/pdf", "%PDF"),
		f.source("song.mp3", "audio/mpeg", "ID3"),
	)
	res, err := c.Admit(files)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if len(res.Admitted) != 3 || len(res.Unsupported) != 2 {
		t.Fatalf("admitted=%d unsupported=%v", len(res.Admitted), res.Unsupported)
	}
	jobs := c.ListJobs()
	for i, j := range jobs {
		if j.Name != fmt.Sprintf("img%d.jpg", i) || j.State != StatePending || j.Metadata != nil {
			t.Errorf("job %d = %+v", i, j)
		}
	}
	seen := map[string]bool{}
	for _, j := range jobs {
		if seen[j.ID] {
			t.Fatalf("duplicate id %s", j.ID)
		}
		seen[j.ID] = true
	}
}

func TestRunCompressionWithMalformedPDF(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryPDF, Deps{})

	_, err := c.Admit([]media.SourceFile{
		f.source("good.pdf", "application/pdf", "%PDF-1.4 good document body"),
		f.source("bad.pdf", "application/pdf", "malformed"),
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := c.RunCompression(context.Background()); err != nil {
		t.Fatalf("RunCompression: %v", err)
	}

	jobs := c.ListJobs()
	if jobs[0].State != StateCompleted || jobs[0].Result == nil {
		t.Errorf("good.pdf = %+v", jobs[0])
	}
	if jobs[1].State != StateFailed || jobs[1].FailureReason == "" {
		t.Errorf("bad.pdf = %+v", jobs[1])
	}
	checkExclusivity(t, jobs)
	if f.stats.GetJobsFailed() != 1 || f.stats.GetJobsCompleted() != 1 {
		t.Errorf("stats completed=%d failed=%d", f.stats.GetJobsCompleted(), f.stats.GetJobsFailed())
	}
}

func TestRunCompressionIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryPDF, Deps{})

	_, err := c.Admit([]media.SourceFile{
		f.source("a.pdf", "application/pdf", "%PDF-1.4 aaaa"),
		f.source("b.pdf", "application/pdf", "malformed"),
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := c.RunCompression(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := c.ListJobs()
	outstanding := f.registry.Outstanding()

	if err := c.RunCompression(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := c.ListJobs()

	if f.strategy.callCount() != 2 {
		t.Fatalf("strategy calls = %d, want 2", f.strategy.callCount())
	}
	for i := range first {
		if first[i].State != second[i].State {
			t.Errorf("job %d state changed %s -> %s", i, first[i].State, second[i].State)
		}
	}
	if f.registry.Outstanding() != outstanding {
		t.Errorf("second run registered new handles")
	}
}

func TestRunCompressionProcessesInOrder(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryImage, Deps{})
	if _, err := c.Admit(f.images(3)); err != nil {
		t.Fatal(err)
	}
	if err := c.RunCompression(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"img0.jpg", "img1.jpg", "img2.jpg"}
	for i, name := range want {
		if f.strategy.calls[i] != name {
			t.Fatalf("calls = %v, want %v", f.strategy.calls, want)
		}
	}
}

func TestSavingsScenario(t *testing.T) {
	f := newFixture(t)
	f.strategy.size = 6_000_000
	c := f.controller(media.CategoryImage, Deps{})

	src := f.source("photo.jpg", "image/jpeg", "jpeg")
	src.Size = 10_000_000
	res, err := c.Admit([]media.SourceFile{src})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RunCompression(context.Background()); err != nil {
		t.Fatal(err)
	}
	job, err := c.Get(res.Admitted[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Result == nil || job.Result.Savings != "40.0" || job.Result.SavingsPercent != 40 {
		t.Fatalf("result = %+v", job.Result)
	}
	if job.Result.Filename != "compressed_photo.jpg" {
		t.Errorf("filename = %q", job.Result.Filename)
	}
	if job.OriginalSize != 10_000_000 {
		t.Errorf("original size changed: %d", job.OriginalSize)
	}
}

func TestStrategyPanicFailsJob(t *testing.T) {
	f := newFixture(t)
	f.strategy.panicOn = "img0.jpg"
	c := f.controller(media.CategoryImage, Deps{})
	if _, err := c.Admit(f.images(2)); err != nil {
		t.Fatal(err)
	}
	if err := c.RunCompression(context.Background()); err != nil {
		t.Fatal(err)
	}
	jobs := c.ListJobs()
	if jobs[0].State != StateFailed || jobs[1].State != StateCompleted {
		t.Fatalf("states = %s, %s", jobs[0].State, jobs[1].State)
	}
	checkExclusivity(t, jobs)
}

func TestRemovePendingJob(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryImage, Deps{Previewer: &filePreviewer{ws: f.ws}})

	res, err := c.Admit(f.images(3))
	if err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if f.registry.Outstanding() != 3 {
		t.Fatalf("previews registered = %d, want 3", f.registry.Outstanding())
	}

	if err := c.Remove(res.Admitted[1].ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	jobs := c.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("batch size = %d, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.State != StatePending || !j.HasPreview {
			t.Errorf("job %s = %+v", j.Name, j)
		}
	}
	if f.registry.Outstanding() != 2 {
		t.Fatalf("outstanding = %d, want 2", f.registry.Outstanding())
	}
	if err := c.Remove("no-such-job"); err != nil {
		t.Fatalf("Remove unknown: %v", err)
	}
}

func TestRemoveEverythingLeavesNoHandles(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryImage, Deps{Previewer: &filePreviewer{ws: f.ws}})

	files := f.images(3)
	for i := range files {
		files[i].Handle = f.registry.Register(files[i].Path)
	}
	if _, err := c.Admit(files); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if err := c.RunCompression(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.registry.Outstanding() != 9 {
		t.Fatalf("outstanding = %d, want 9 (source, preview, output per job)", f.registry.Outstanding())
	}

	for _, j := range c.ListJobs() {
		if err := c.Remove(j.ID); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.registry.Outstanding(); n != 0 {
		t.Fatalf("leaked %d handles", n)
	}
	if s := f.registry.Stats(); s.DoubleReleases != 0 {
		t.Fatalf("double releases = %d", s.DoubleReleases)
	}
}

func TestRemoveProcessingDisallowed(t *testing.T) {
	f := newFixture(t)
	f.strategy.block = make(chan struct{})
	f.strategy.started = make(chan string, 3)
	c := f.controller(media.CategoryImage, Deps{})

	res, err := c.Admit(f.images(2))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- c.RunCompression(context.Background()) }()
	<-f.strategy.started

	if err := c.Remove(res.Admitted[0].ID); !errors.Is(err, ErrJobProcessing) {
		t.Fatalf("Remove processing: err = %v", err)
	}
	if err := c.RunCompression(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("concurrent run: err = %v", err)
	}
	if err := c.Remove(res.Admitted[1].ID); err != nil {
		t.Fatalf("Remove pending during run: %v", err)
	}

	close(f.strategy.block)
	if err := <-done; err != nil {
		t.Fatalf("RunCompression: %v", err)
	}
	jobs := c.ListJobs()
	if len(jobs) != 1 || jobs[0].State != StateCompleted {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestCancelledRun(t *testing.T) {
	f := newFixture(t)
	f.strategy.block = make(chan struct{})
	f.strategy.started = make(chan string, 3)
	c := f.controller(media.CategoryImage, Deps{})
	if _, err := c.Admit(f.images(2)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunCompression(ctx) }()
	<-f.strategy.started
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	jobs := c.ListJobs()
	if jobs[0].State != StateFailed || jobs[1].State != StatePending {
		t.Fatalf("states = %s, %s", jobs[0].State, jobs[1].State)
	}
	checkExclusivity(t, jobs)
}

func TestCloseWaitsForActiveRun(t *testing.T) {
	f := newFixture(t)
	f.strategy.block = make(chan struct{})
	f.strategy.started = make(chan string, 1)
	c := f.controller(media.CategoryImage, Deps{})

	src := f.images(1)
	src[0].Handle = f.registry.Register(src[0].Path)
	if _, err := c.Admit(src); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- c.RunCompression(context.Background()) }()
	<-f.strategy.started

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a job was processing")
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := os.Stat(src[0].Path); err != nil {
		t.Fatalf("source released mid-compression: %v", err)
	}

	close(f.strategy.block)
	if err := <-done; err != nil {
		t.Fatalf("RunCompression: %v", err)
	}
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the run finished")
	}

	if n := f.stats.GetJobsCompleted(); n != 1 {
		t.Fatalf("completed = %d, want 1", n)
	}
	if n := f.registry.Outstanding(); n != 0 {
		t.Fatalf("leaked %d handles", n)
	}
	if err := c.RunCompression(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("run after Close: err = %v", err)
	}
}

type filePreviewer struct {
	ws   *resource.Workspace
	gate chan struct{}

	mu    sync.Mutex
	paths []string
}

func (p *filePreviewer) Generate(ctx context.Context, category media.Category, src media.SourceFile) (string, error) {
	if p.gate != nil {
		<-p.gate
	}
	path, err := p.ws.NewFile("preview", "jpg")
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.mu.Unlock()
	return path, nil
}

type gateProber struct {
	gate chan struct{}
	md   *probe.Metadata
}

func (p *gateProber) Probe(ctx context.Context, category media.Category, src media.SourceFile) (*probe.Metadata, error) {
	<-p.gate
	return p.md, nil
}

func TestLateResultsForRemovedJobAreDiscarded(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	previewer := &filePreviewer{ws: f.ws, gate: gate}
	c := f.controller(media.CategoryAudio, Deps{
		Previewer: previewer,
		Prober:    &gateProber{gate: gate, md: &probe.Metadata{DurationSeconds: 100, BitrateKbps: 800}},
	})

	res, err := c.Admit([]media.SourceFile{f.source("song.mp3", "audio/mpeg", "ID3")})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Remove(res.Admitted[0].ID); err != nil {
		t.Fatal(err)
	}
	close(gate)
	c.Wait()

	if c.Len() != 0 {
		t.Fatalf("removed job came back: %d jobs", c.Len())
	}
	for _, e := range f.events.Since(0) {
		if e.Type == EventMetadata || e.Type == EventPreview {
			t.Fatalf("late %s event published", e.Type)
		}
	}
	if f.registry.Outstanding() != 0 {
		t.Fatalf("late preview handle leaked")
	}
	for _, p := range previewer.paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("late preview file %s still exists", p)
		}
	}
}

type durationProber struct{ seconds float64 }

func (p durationProber) Name() string { return "stub" }

func (p durationProber) Probe(ctx context.Context, path string) (*probe.Raw, error) {
	return &probe.Raw{DurationSeconds: p.seconds}, nil
}

func TestAudioProbeBitrate(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryAudio, Deps{
		Prober: probe.NewService(durationProber{seconds: 100}, logger.Discard()),
	})

	src := f.source("talk.mp3", "audio/mpeg", "ID3")
	src.Size = 10_000_000
	res, err := c.Admit([]media.SourceFile{src})
	if err != nil {
		t.Fatal(err)
	}
	c.Wait()

	job, err := c.Get(res.Admitted[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Metadata == nil || job.Metadata.BitrateKbps != 800 {
		t.Fatalf("metadata = %+v, want 800 kbps", job.Metadata)
	}
	if job.State != StatePending {
		t.Fatalf("probe changed state to %s", job.State)
	}
}

type hangingPreviewer struct{}

func (hangingPreviewer) Generate(ctx context.Context, category media.Category, src media.SourceFile) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestHungPreviewDoesNotBlockProbe(t *testing.T) {
	f := newFixture(t)
	ready := make(chan struct{})
	close(ready)
	c, err := NewController(Options{
		Category:     media.CategoryVideo,
		Accept:       media.NewAcceptSet(acceptTypes[media.CategoryVideo]),
		MaxSize:      3,
		ProbeTimeout: 50 * time.Millisecond,
	}, Deps{
		Strategy:  f.strategy,
		Registry:  f.registry,
		Prober:    &gateProber{gate: ready, md: &probe.Metadata{DurationSeconds: 100, Width: 1280, Height: 720}},
		Previewer: hangingPreviewer{},
		Stats:     f.stats,
		Logger:    logger.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)

	res, err := c.Admit([]media.SourceFile{f.source("clip.mp4", "video/mp4", "ftyp")})
	if err != nil {
		t.Fatal(err)
	}

	waited := make(chan struct{})
	go func() {
		c.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait blocked on a hung preview")
	}

	job, err := c.Get(res.Admitted[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.HasPreview {
		t.Error("timed-out preview should not be attached")
	}
	if job.Metadata == nil || job.Metadata.DurationSeconds != 100 {
		t.Fatalf("metadata = %+v, want 100s duration", job.Metadata)
	}
}

type failingProber struct{}

func (failingProber) Probe(ctx context.Context, category media.Category, src media.SourceFile) (*probe.Metadata, error) {
	return nil, probe.ErrNoMetadata
}

func TestProbeFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryAudio, Deps{Prober: failingProber{}})

	if _, err := c.Admit([]media.SourceFile{f.source("noise.mp3", "audio/mpeg", "ID3 bytes")}); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if err := c.RunCompression(context.Background()); err != nil {
		t.Fatal(err)
	}
	job := c.ListJobs()[0]
	if job.Metadata != nil || job.State != StateCompleted {
		t.Fatalf("job = %+v", job)
	}
	if f.stats.ProbeFailures != 1 {
		t.Fatalf("probe failures = %d", f.stats.ProbeFailures)
	}
}

type memSaver struct {
	files map[string][]byte
	order []string
}

func (m *memSaver) Save(ctx context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[name] = data
	m.order = append(m.order, name)
	return nil
}

func TestDownloads(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryPDF, Deps{})

	res, err := c.Admit([]media.SourceFile{
		f.source("report.pdf", "application/pdf", "%PDF-1.4 report body"),
		f.source("broken.pdf", "application/pdf", "malformed"),
	})
	if err != nil {
		t.Fatal(err)
	}

	saver := &memSaver{}
	saved, err := c.DownloadOne(context.Background(), res.Admitted[0].ID, saver)
	if err != nil || saved {
		t.Fatalf("download of pending job: saved=%v err=%v", saved, err)
	}
	if _, err := c.DownloadOne(context.Background(), "missing", saver); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("unknown id: err = %v", err)
	}

	if err := c.RunCompression(context.Background()); err != nil {
		t.Fatal(err)
	}
	n, err := c.DownloadCompleted(context.Background(), saver)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(saver.order) != 1 || saver.order[0] != "compressed_report.pdf" {
		t.Fatalf("saved %d: %v", n, saver.order)
	}

	saved, err = c.DownloadOne(context.Background(), res.Admitted[1].ID, saver)
	if err != nil || saved {
		t.Fatalf("download of failed job: saved=%v err=%v", saved, err)
	}
}

func TestClearKeepsNothingBehind(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryImage, Deps{Previewer: &filePreviewer{ws: f.ws}})
	if _, err := c.Admit(f.images(3)); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if n := c.Clear(); n != 3 {
		t.Fatalf("Clear = %d, want 3", n)
	}
	if c.Len() != 0 || f.registry.Outstanding() != 0 {
		t.Fatalf("len=%d outstanding=%d", c.Len(), f.registry.Outstanding())
	}
}

func TestSessionCloseReleasesEverything(t *testing.T) {
	f := newFixture(t)
	img := f.controller(media.CategoryImage, Deps{Previewer: &filePreviewer{ws: f.ws}})
	pdf := f.controller(media.CategoryPDF, Deps{})
	session := NewSession(f.registry, f.events, logger.Discard(), img, pdf)

	if _, err := img.Admit(f.images(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := pdf.Admit([]media.SourceFile{f.source("a.pdf", "application/pdf", "%PDF-1.4 x")}); err != nil {
		t.Fatal(err)
	}
	img.Wait()
	if err := pdf.RunCompression(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := session.Categories(); len(got) != 2 || got[0] != media.CategoryImage || got[1] != media.CategoryPDF {
		t.Fatalf("categories = %v", got)
	}
	if stray := session.Close(); stray != 0 {
		t.Fatalf("stray handles = %d", stray)
	}
	if f.registry.Outstanding() != 0 {
		t.Fatalf("outstanding after close = %d", f.registry.Outstanding())
	}
	if _, err := session.Controller(media.CategoryVideo); err == nil {
		t.Fatal("expected error for missing controller")
	}
}

func TestEventsTrackTransitions(t *testing.T) {
	f := newFixture(t)
	c := f.controller(media.CategoryImage, Deps{})
	ch, cancel := f.events.Subscribe(16)
	defer cancel()

	if _, err := c.Admit(f.images(1)); err != nil {
		t.Fatal(err)
	}
	if err := c.RunCompression(context.Background()); err != nil {
		t.Fatal(err)
	}

	var states []State
	timeout := time.After(2 * time.Second)
	for len(states) < 3 {
		select {
		case e := <-ch:
			if e.Category != media.CategoryImage {
				t.Fatalf("event category = %s", e.Category)
			}
			states = append(states, e.State)
		case <-timeout:
			t.Fatalf("timed out, got %v", states)
		}
	}
	want := []State{StatePending, StateProcessing, StateCompleted}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}

	all := f.events.Since(0)
	if len(all) != 3 || len(f.events.Since(all[1].Seq)) != 1 {
		t.Fatalf("Since returned %d events", len(all))
	}
}

func TestSuggestedFilename(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		want string
	}{
		{"holiday.png", "png", "compressed_holiday.png"},
		{"holiday.webp", "jpg", "compressed_holiday.jpg"},
		{"my.song.wav", "mp3", "compressed_my.song.mp3"},
		{"README", "", "compressed_README"},
	}
	for _, tt := range tests {
		if got := SuggestedFilename(media.SourceFile{Name: tt.name}, tt.ext); got != tt.want {
			t.Errorf("SuggestedFilename(%q, %q) = %q, want %q", tt.name, tt.ext, got, tt.want)
		}
	}
}
