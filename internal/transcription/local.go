package transcription

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parlo-app/parlo-stt/internal/audio"
	"github.com/parlo-app/parlo-stt/internal/device"
	"github.com/parlo-app/parlo-stt/internal/model"
)

// WarmupTimeout is the generous per-worker bound on the proactive model
// load; a worker that misses it just pays the load cost on its first job.
const WarmupTimeout = 120 * time.Second

// silenceThresholdDBFS flags uploads that are unlikely to contain speech.
const silenceThresholdDBFS = -65.0

type job struct {
	id         string
	req        Request
	warmupOnly bool
	// result is buffered so a worker can finish a job whose caller has
	// already timed out without leaking a goroutine.
	result chan jobResult
}

type jobResult struct {
	res Result
	err error
}

type worker struct {
	id    int
	warm  chan *job
	cache *modelCache
}

// LocalBackend runs transcription on this machine with a fixed pool of
// worker goroutines. Each worker owns a private model cache, so concurrent
// jobs run genuinely in parallel with one model handle per worker.
type LocalBackend struct {
	cfg     Config
	logger  *zap.Logger
	decoder audio.Decoder
	loader  model.Loader
	device  device.Kind

	jobs    chan *job
	workers []*worker
	wg      sync.WaitGroup

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

var _ Backend = (*LocalBackend)(nil)

// LocalOption overrides a collaborator, mainly for tests.
type LocalOption func(*LocalBackend)

func WithDecoder(d audio.Decoder) LocalOption {
	return func(b *LocalBackend) { b.decoder = d }
}

func WithLoader(l model.Loader) LocalOption {
	return func(b *LocalBackend) { b.loader = l }
}

func WithProber(p device.Prober) LocalOption {
	return func(b *LocalBackend) { b.device = device.Select(b.cfg.Device, p) }
}

// NewLocal constructs the worker pool, probes the compute device once, and
// (unless disabled) warms every worker up before returning. The pool size
// is fixed for the backend's lifetime.
func NewLocal(cfg Config, opts ...LocalOption) (*LocalBackend, error) {
	logger := cfg.log()

	b := &LocalBackend{
		cfg:    cfg,
		logger: logger,
		device: device.Select(cfg.Device, device.HostProber{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.decoder == nil {
		decoder, err := audio.NewFFmpegDecoder(logger)
		if err != nil {
			return nil, fmt.Errorf("construct local backend: %w", err)
		}
		b.decoder = decoder
	}
	if b.loader == nil {
		loader, err := model.NewWhisperCLILoader(cfg.ModelDir, logger)
		if err != nil {
			return nil, fmt.Errorf("construct local backend: %w", err)
		}
		b.loader = loader
	}

	size := cfg.PoolSize()
	b.jobs = make(chan *job, size)
	b.workers = make([]*worker, size)
	for i := range b.workers {
		w := &worker{
			id:    i,
			warm:  make(chan *job),
			cache: newModelCache(b.loader),
		}
		b.workers[i] = w
		b.wg.Add(1)
		go b.runWorker(w)
	}

	logger.Info("local transcription pool started",
		zap.Int("workers", size),
		zap.String("device", string(b.device)),
		zap.String("model", b.modelSize()),
	)

	if cfg.Warmup {
		b.warmup()
	}

	return b, nil
}

func (b *LocalBackend) Name() string {
	return "local"
}

func (b *LocalBackend) AvailableModels() []string {
	return model.Sizes()
}

// Device reports the compute device selected at construction.
func (b *LocalBackend) Device() device.Kind {
	return b.device
}

// Transcribe submits the job to the pool and waits for a result, bounded
// by the request timeout (default 300s). The bound covers queueing and
// execution; when it expires the call fails with ErrTimeout while the
// worker finishes the job on its own and discards the result.
func (b *LocalBackend) Transcribe(ctx context.Context, req Request) (Result, error) {
	if _, err := os.Stat(req.AudioPath); err != nil {
		return Result{}, fmt.Errorf("%w: audio file not found: %v", ErrTranscription, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.cfg.timeout()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	j := &job{
		id:     uuid.NewString(),
		req:    req,
		result: make(chan jobResult, 1),
	}

	if err := b.submit(ctx, j, timer); err != nil {
		return Result{}, err
	}

	select {
	case r := <-j.result:
		if r.err != nil {
			return Result{}, r.err
		}
		return r.res, nil
	case <-timer.C:
		b.logger.Warn("job timed out; worker will finish and discard it",
			zap.String("job", j.id),
			zap.Duration("timeout", timeout),
		)
		return Result{}, fmt.Errorf("%w: job %s exceeded %s", ErrTimeout, j.id, timeout)
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

func (b *LocalBackend) submit(ctx context.Context, j *job, timer *time.Timer) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("%w: pool is closed", ErrUnavailable)
	}

	// Excess jobs queue FIFO in the channel buffer until a worker frees up.
	select {
	case b.jobs <- j:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no worker accepted job %s in time", ErrTimeout, j.id)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// HealthCheck reports whether the pool can still accept jobs.
func (b *LocalBackend) HealthCheck(ctx context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// Close stops accepting jobs, drains the ones already queued or running,
// and releases every cached model handle. Safe to call more than once.
func (b *LocalBackend) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		close(b.jobs)
		b.wg.Wait()
		b.logger.Info("local transcription pool stopped")
	})
	return nil
}

func (b *LocalBackend) runWorker(w *worker) {
	defer b.wg.Done()
	defer w.cache.close(b.logger)

	for {
		select {
		case j, ok := <-b.jobs:
			if !ok {
				return
			}
			b.handle(w, j)
		case j, ok := <-w.warm:
			if !ok {
				w.warm = nil
				continue
			}
			b.handle(w, j)
		}
	}
}

// handle runs one job to completion. It deliberately does not inherit the
// caller's deadline: a timed-out caller stops waiting, the computation is
// not cancelled mid-inference.
func (b *LocalBackend) handle(w *worker, j *job) {
	ctx := context.Background()
	key := cacheKey{size: b.modelSize(), device: b.device}

	if j.warmupOnly {
		_, err := w.cache.get(ctx, key)
		j.result <- jobResult{err: err}
		return
	}

	started := time.Now()
	res, err := b.runJob(ctx, w, key, j)
	if err != nil {
		b.logger.Warn("job failed",
			zap.String("job", j.id),
			zap.Int("worker", w.id),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
		j.result <- jobResult{err: err}
		return
	}

	b.logger.Info("job completed",
		zap.String("job", j.id),
		zap.Int("worker", w.id),
		zap.Duration("elapsed", time.Since(started)),
		zap.Float64("audio_seconds", res.Duration),
	)
	j.result <- jobResult{res: res}
}

func (b *LocalBackend) runJob(ctx context.Context, w *worker, key cacheKey, j *job) (Result, error) {
	samples, err := b.decoder.Decode(ctx, j.req.AudioPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	if metrics := audio.Levels(samples); audio.NearSilent(metrics, silenceThresholdDBFS) {
		b.logger.Info("audio is near silent; expecting an empty transcript",
			zap.String("job", j.id),
			zap.Float64("rms_dbfs", metrics.RMSdBFS),
			zap.Float64("peak_dbfs", metrics.PeakdBFS),
		)
	}

	handle, err := w.cache.get(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("%w: load model: %w", ErrTranscription, err)
	}

	wavPath, err := audio.EncodeWAV(samples, "")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	defer os.Remove(wavPath)

	out, err := handle.Transcribe(ctx, wavPath, j.req.Language)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	return deriveResult(out, j.req.Language), nil
}

// warmup pushes one load-only job into every worker so the first real
// request does not pay the multi-second model load. Individual failures
// are logged, never fatal.
func (b *LocalBackend) warmup() {
	ctx, cancel := context.WithTimeout(context.Background(), WarmupTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, w := range b.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()

			j := &job{id: uuid.NewString(), warmupOnly: true, result: make(chan jobResult, 1)}
			select {
			case w.warm <- j:
			case <-ctx.Done():
				b.logger.Warn("warmup not accepted in time", zap.Int("worker", w.id))
				return
			}

			select {
			case r := <-j.result:
				if r.err != nil {
					b.logger.Warn("worker warmup failed; it will load on first job",
						zap.Int("worker", w.id),
						zap.Error(r.err),
					)
				} else {
					b.logger.Debug("worker warmed up", zap.Int("worker", w.id))
				}
			case <-ctx.Done():
				b.logger.Warn("worker warmup timed out", zap.Int("worker", w.id))
			}
		}(w)
	}
	wg.Wait()

	for _, w := range b.workers {
		close(w.warm)
	}
}

func (b *LocalBackend) modelSize() string {
	if b.cfg.ModelSize == "" {
		return model.DefaultSize
	}
	return b.cfg.ModelSize
}
