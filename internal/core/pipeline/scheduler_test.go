package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alzaio/anyvideodownload/internal/core/cancel"
	"github.com/alzaio/anyvideodownload/internal/core/deliver"
	"github.com/alzaio/anyvideodownload/internal/core/event"
	"github.com/alzaio/anyvideodownload/internal/core/fetch"
	"github.com/alzaio/anyvideodownload/internal/core/job"
	"github.com/alzaio/anyvideodownload/internal/transport"
)

type fakeFetcher struct {
	mu        sync.Mutex
	path      string
	title     string
	size      int64
	err       error
	release   chan struct{} // when non-nil, Fetch blocks until closed or cancelled
	started   chan struct{} // when non-nil, closed once the first Fetch begins
	startOnce sync.Once
	calls     atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request, progress fetch.ProgressFunc, tok *cancel.Token) (fetch.Result, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	f.mu.Lock()
	release := f.release
	f.mu.Unlock()
	if release != nil {
		tick := time.NewTicker(2 * time.Millisecond)
		defer tick.Stop()
		waiting := true
		for waiting {
			select {
			case <-release:
				waiting = false
			case <-tick.C:
				if tok.Cancelled() {
					return fetch.Result{}, job.ErrCancelled
				}
			case <-ctx.Done():
				return fetch.Result{}, job.ErrCancelled
			}
		}
	}
	if f.err != nil {
		return fetch.Result{}, f.err
	}
	if progress != nil {
		progress(f.size, f.size)
	}
	return fetch.Result{Path: f.path, Title: f.title, Size: f.size}, nil
}

func (f *fakeFetcher) Probe(ctx context.Context, url string) (fetch.Info, error) {
	return fetch.Info{Title: f.title, Size: f.size}, nil
}

type fakeCompressor struct {
	out   string
	err   error
	calls atomic.Int32
}

func (c *fakeCompressor) Compress(ctx context.Context, inputPath string, tok *cancel.Token) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return inputPath, c.err
	}
	if c.out != "" {
		return c.out, nil
	}
	return inputPath, nil
}

type fakeTransport struct {
	mu    sync.Mutex
	files []string
	texts []string
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) SendFile(ctx context.Context, dest, path, caption string, progress transport.ProgressFunc) error {
	t.mu.Lock()
	t.files = append(t.files, path)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) SendText(ctx context.Context, dest, text string) error {
	t.mu.Lock()
	t.texts = append(t.texts, text)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) sentFiles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.files...)
}

type terminalRecorder struct {
	mu     sync.Mutex
	events []event.Event
	done   chan event.Event
}

func newTerminalRecorder(bus event.Bus) *terminalRecorder {
	r := &terminalRecorder{done: make(chan event.Event, 16)}
	for _, t := range []event.EventType{event.EventJobCompleted, event.EventJobFailed, event.EventJobCancelled} {
		bus.Subscribe(t, func(ctx context.Context, e event.Event) error {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
			r.done <- e
			return nil
		})
	}
	return r
}

func (r *terminalRecorder) wait(t *testing.T) event.Event {
	t.Helper()
	select {
	case e := <-r.done:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal event")
		return event.Event{}
	}
}

func artifact(t *testing.T, dir string, size int) string {
	t.Helper()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestScheduler(t *testing.T, cfg Config, f fetch.Fetcher, c *fakeCompressor, tr *fakeTransport, bus event.Bus) *Scheduler {
	t.Helper()
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = t.TempDir()
	}
	adapter := deliver.New(tr, cfg.MaxBytes, time.Millisecond)
	s := NewScheduler(cfg, f, c, adapter, cancel.NewRegistry(), bus)
	t.Cleanup(func() {
		ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = s.Close(ctx)
	})
	return s
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	dir := t.TempDir()
	path := artifact(t, dir, 1024)

	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	fetcher := &fakeFetcher{path: path, title: "clip", size: 1024}
	comp := &fakeCompressor{}
	tr := &fakeTransport{}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20, CompressionThreshold: 1 << 19}, fetcher, comp, tr, bus)

	j := job.New("chat:1", "https://example.com/v", job.ModeVideo, job.QualityBest)
	pos, err := s.Submit(j)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if pos != 0 {
		t.Fatalf("expected immediate start, got position %d", pos)
	}

	e := rec.wait(t)
	if e.Type != event.EventJobCompleted {
		t.Fatalf("terminal event = %s, want %s", e.Type, event.EventJobCompleted)
	}
	payload := e.Payload.(event.JobEvent)
	if payload.Delivered != 1024 {
		t.Fatalf("delivered = %d, want 1024", payload.Delivered)
	}
	if comp.calls.Load() != 0 {
		t.Fatal("compressor should not run below the threshold")
	}
	if got := tr.sentFiles(); len(got) != 1 || got[0] != path {
		t.Fatalf("transport got %v", got)
	}

	snap, ok := s.Snapshot("chat:1")
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if snap.State != job.StateCompleted {
		t.Fatalf("snapshot state = %s", snap.State)
	}
}

func TestQueuedEventPrecedesTerminal(t *testing.T) {
	dir := t.TempDir()
	path := artifact(t, dir, 16)

	bus := event.NewBus()
	var mu sync.Mutex
	var order []event.EventType
	for _, et := range []event.EventType{event.EventJobQueued, event.EventJobCompleted, event.EventJobFailed, event.EventJobCancelled} {
		bus.Subscribe(et, func(ctx context.Context, e event.Event) error {
			mu.Lock()
			order = append(order, e.Type)
			mu.Unlock()
			return nil
		})
	}
	rec := newTerminalRecorder(bus)

	fetcher := &fakeFetcher{path: path, title: "clip", size: 16}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20}, fetcher, &fakeCompressor{}, &fakeTransport{}, bus)

	if _, err := s.Submit(job.New("chat:1", "https://example.com/v", job.ModeVideo, job.QualityBest)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	rec.wait(t)

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 2 || order[0] != event.EventJobQueued {
		t.Fatalf("event order = %v, want the admission event first", order)
	}
}

func TestCompressionRunsAboveThreshold(t *testing.T) {
	dir := t.TempDir()
	big := artifact(t, dir, 4096)
	small := filepath.Join(dir, "clip_compressed.mp4")
	if err := os.WriteFile(small, make([]byte, 512), 0o644); err != nil {
		t.Fatal(err)
	}

	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	fetcher := &fakeFetcher{path: big, title: "clip", size: 4096}
	comp := &fakeCompressor{out: small}
	tr := &fakeTransport{}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20, CompressionThreshold: 1024}, fetcher, comp, tr, bus)

	j := job.New("chat:1", "https://example.com/v", job.ModeVideo, job.Quality720)
	if _, err := s.Submit(j); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if e := rec.wait(t); e.Type != event.EventJobCompleted {
		t.Fatalf("terminal event = %s", e.Type)
	}
	if comp.calls.Load() != 1 {
		t.Fatalf("compressor calls = %d, want 1", comp.calls.Load())
	}
	if got := tr.sentFiles(); len(got) != 1 || got[0] != small {
		t.Fatalf("transport got %v, want the compressed artifact", got)
	}
}

func TestAudioSkipsCompression(t *testing.T) {
	dir := t.TempDir()
	path := artifact(t, dir, 8192)

	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	fetcher := &fakeFetcher{path: path, title: "track", size: 8192}
	comp := &fakeCompressor{}
	tr := &fakeTransport{}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20, CompressionThreshold: 1024}, fetcher, comp, tr, bus)

	j := job.New("chat:1", "https://example.com/a", job.ModeAudio, job.QualityBest)
	if _, err := s.Submit(j); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if e := rec.wait(t); e.Type != event.EventJobCompleted {
		t.Fatalf("terminal event = %s", e.Type)
	}
	if comp.calls.Load() != 0 {
		t.Fatal("audio jobs must never transcode")
	}
}

func TestTranscodeTimeoutDeliversOriginal(t *testing.T) {
	dir := t.TempDir()
	path := artifact(t, dir, 4096)

	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	fetcher := &fakeFetcher{path: path, title: "clip", size: 4096}
	comp := &fakeCompressor{err: job.ErrTransformTimeout}
	tr := &fakeTransport{}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20, CompressionThreshold: 1024}, fetcher, comp, tr, bus)

	j := job.New("chat:1", "https://example.com/v", job.ModeVideo, job.Quality720)
	if _, err := s.Submit(j); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if e := rec.wait(t); e.Type != event.EventJobCompleted {
		t.Fatalf("terminal event = %s, want %s", e.Type, event.EventJobCompleted)
	}
	if comp.calls.Load() != 1 {
		t.Fatalf("compressor calls = %d, want 1", comp.calls.Load())
	}
	if got := tr.sentFiles(); len(got) != 1 || got[0] != path {
		t.Fatalf("transport got %v, want the original artifact", got)
	}
}

func TestTranscodeTimeoutOriginalOverCeilingFails(t *testing.T) {
	dir := t.TempDir()
	path := artifact(t, dir, 2048)

	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	// The reported size clears the ceiling so the transcode is attempted,
	// but the file on disk does not; the re-check after the timeout must
	// catch it.
	fetcher := &fakeFetcher{path: path, title: "clip", size: 600}
	comp := &fakeCompressor{err: job.ErrTransformTimeout}
	tr := &fakeTransport{}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1024, CompressionThreshold: 512}, fetcher, comp, tr, bus)

	j := job.New("chat:1", "https://example.com/v", job.ModeVideo, job.Quality720)
	if _, err := s.Submit(j); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if e := rec.wait(t); e.Type != event.EventJobFailed {
		t.Fatalf("terminal event = %s, want %s", e.Type, event.EventJobFailed)
	}
	if comp.calls.Load() != 1 {
		t.Fatalf("compressor calls = %d, want 1", comp.calls.Load())
	}
	if len(tr.sentFiles()) != 0 {
		t.Fatal("an artifact over the size ceiling must not reach the transport")
	}
}

func TestOversizedArtifactFails(t *testing.T) {
	dir := t.TempDir()
	path := artifact(t, dir, 2048)

	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	fetcher := &fakeFetcher{path: path, title: "clip", size: 2048}
	tr := &fakeTransport{}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1024, CompressionThreshold: 512}, fetcher, &fakeCompressor{}, tr, bus)

	// Audio mode so the size check fires without the transcode detour.
	j := job.New("chat:1", "https://example.com/v", job.ModeAudio, job.QualityBest)
	if _, err := s.Submit(j); err != nil {
		t.Fatalf("submit: %v", err)
	}

	e := rec.wait(t)
	if e.Type != event.EventJobFailed {
		t.Fatalf("terminal event = %s, want %s", e.Type, event.EventJobFailed)
	}
	if len(tr.sentFiles()) != 0 {
		t.Fatal("oversized artifact must not reach the transport")
	}
}

func TestDuplicateRequesterRejected(t *testing.T) {
	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	release := make(chan struct{})
	fetcher := &fakeFetcher{release: release}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20}, fetcher, &fakeCompressor{}, &fakeTransport{}, bus)

	first := job.New("chat:1", "https://example.com/a", job.ModeVideo, job.QualityBest)
	if _, err := s.Submit(first); err != nil {
		t.Fatalf("submit: %v", err)
	}
	second := job.New("chat:1", "https://example.com/b", job.ModeVideo, job.QualityBest)
	if _, err := s.Submit(second); !errors.Is(err, job.ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}

	s.Cancel("chat:1")
	rec.wait(t)
}

func TestQueueOverflowAndPromotion(t *testing.T) {
	dir := t.TempDir()
	path := artifact(t, dir, 64)

	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	release := make(chan struct{})
	fetcher := &fakeFetcher{path: path, title: "clip", size: 64, release: release}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20}, fetcher, &fakeCompressor{}, &fakeTransport{}, bus)

	if _, err := s.Submit(job.New("chat:1", "https://example.com/a", job.ModeVideo, job.QualityBest)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	pos, err := s.Submit(job.New("chat:2", "https://example.com/b", job.ModeVideo, job.QualityBest))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if pos != 1 {
		t.Fatalf("queue position = %d, want 1", pos)
	}
	if got := s.Position("chat:2"); got != 1 {
		t.Fatalf("Position = %d, want 1", got)
	}
	if stats := s.Stats(); stats.Active != 1 || stats.Queued != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	close(release)
	fetcher.mu.Lock()
	fetcher.release = nil
	fetcher.mu.Unlock()

	// Both jobs must reach a terminal state, the queued one after promotion.
	rec.wait(t)
	rec.wait(t)
	if fetcher.calls.Load() != 2 {
		t.Fatalf("fetch calls = %d, want 2", fetcher.calls.Load())
	}
	if got := s.Position("chat:2"); got != 0 {
		t.Fatalf("Position after completion = %d, want 0", got)
	}
}

func TestCancelQueuedJobTerminatesImmediately(t *testing.T) {
	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	fetcher := &fakeFetcher{release: release, started: started}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20}, fetcher, &fakeCompressor{}, &fakeTransport{}, bus)

	if _, err := s.Submit(job.New("chat:1", "https://example.com/a", job.ModeVideo, job.QualityBest)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.Submit(job.New("chat:2", "https://example.com/b", job.ModeVideo, job.QualityBest)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Make sure the slot holder's worker is running before cancelling, so
	// the fetch-call count below is not racing goroutine startup.
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first fetch to start")
	}

	s.Cancel("chat:2")

	e := rec.wait(t)
	if e.Type != event.EventJobCancelled {
		t.Fatalf("terminal event = %s, want %s", e.Type, event.EventJobCancelled)
	}
	if e.Payload.(event.JobEvent).RequesterKey != "chat:2" {
		t.Fatalf("cancelled wrong job: %+v", e.Payload)
	}
	if stats := s.Stats(); stats.Queued != 0 {
		t.Fatalf("queued = %d after cancel, want 0", stats.Queued)
	}
	if fetcher.calls.Load() != 1 {
		t.Fatal("queued job must never start after cancellation")
	}

	// The slot holder is unaffected and a fresh submit from the cancelled
	// requester is admitted again.
	if _, err := s.Submit(job.New("chat:2", "https://example.com/c", job.ModeVideo, job.QualityBest)); err != nil {
		t.Fatalf("resubmit after cancel: %v", err)
	}
}

func TestCancelRunningJob(t *testing.T) {
	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	release := make(chan struct{})
	defer close(release)
	fetcher := &fakeFetcher{release: release}
	tr := &fakeTransport{}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20}, fetcher, &fakeCompressor{}, tr, bus)

	if _, err := s.Submit(job.New("chat:1", "https://example.com/a", job.ModeVideo, job.QualityBest)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	s.Cancel("chat:1")

	e := rec.wait(t)
	if e.Type != event.EventJobCancelled {
		t.Fatalf("terminal event = %s, want %s", e.Type, event.EventJobCancelled)
	}
	if len(tr.sentFiles()) != 0 {
		t.Fatal("cancelled job must not deliver")
	}

	snap, _ := s.Snapshot("chat:1")
	if snap.State != job.StateCancelled {
		t.Fatalf("snapshot state = %s", snap.State)
	}
	if snap.Error != "" {
		t.Fatalf("cancellation must not surface as an error, got %q", snap.Error)
	}
}

func TestCancelUnknownKeyIsNoOp(t *testing.T) {
	bus := event.NewBus()
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20}, &fakeFetcher{}, &fakeCompressor{}, &fakeTransport{}, bus)
	s.Cancel("chat:nobody")
}

func TestWorkingDirectoryRemovedAfterFailure(t *testing.T) {
	downloadDir := t.TempDir()
	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	fetcher := &fakeFetcher{err: job.ErrGeoRestricted}
	s := newTestScheduler(t, Config{Workers: 1, DownloadDir: downloadDir, MaxBytes: 1 << 20}, fetcher, &fakeCompressor{}, &fakeTransport{}, bus)

	j := job.New("chat:1", "https://example.com/a", job.ModeVideo, job.QualityBest)
	jobDir := filepath.Join(downloadDir, j.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Submit(j); err != nil {
		t.Fatalf("submit: %v", err)
	}

	e := rec.wait(t)
	if e.Type != event.EventJobFailed {
		t.Fatalf("terminal event = %s", e.Type)
	}
	if _, err := os.Stat(jobDir); !os.IsNotExist(err) {
		t.Fatal("working directory should be removed after failure")
	}
}

func TestCloseDrainsQueueAndRefusesSubmit(t *testing.T) {
	bus := event.NewBus()
	rec := newTerminalRecorder(bus)
	release := make(chan struct{})
	fetcher := &fakeFetcher{release: release}
	s := newTestScheduler(t, Config{Workers: 1, MaxBytes: 1 << 20}, fetcher, &fakeCompressor{}, &fakeTransport{}, bus)

	if _, err := s.Submit(job.New("chat:1", "https://example.com/a", job.ModeVideo, job.QualityBest)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.Submit(job.New("chat:2", "https://example.com/b", job.ModeVideo, job.QualityBest)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	// One cancellation for the dropped queued job, one terminal for the
	// in-flight job.
	rec.wait(t)
	rec.wait(t)

	if _, err := s.Submit(job.New("chat:3", "https://example.com/c", job.ModeVideo, job.QualityBest)); !errors.Is(err, job.ErrShuttingDown) {
		t.Fatalf("err = %v, want ErrShuttingDown", err)
	}
}
