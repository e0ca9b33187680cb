package transcription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parlo-app/parlo-stt/internal/audio"
	"github.com/parlo-app/parlo-stt/internal/device"
	"github.com/parlo-app/parlo-stt/internal/model"
)

type fakeModel struct {
	out   model.Output
	err   error
	delay time.Duration

	mu     sync.Mutex
	inputs []string
}

func (m *fakeModel) Transcribe(_ context.Context, audioPath, _ string) (model.Output, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	m.inputs = append(m.inputs, audioPath)
	m.mu.Unlock()
	return m.out, m.err
}

func (m *fakeModel) Close() error {
	return nil
}

type countingLoader struct {
	mu     sync.Mutex
	loads  int
	byKey  map[model.LoadOptions]int
	model  *fakeModel
	err    error
	closed int
}

func newCountingLoader(m *fakeModel) *countingLoader {
	return &countingLoader{byKey: make(map[model.LoadOptions]int), model: m}
}

func (l *countingLoader) Load(_ context.Context, opts model.LoadOptions) (model.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.loads++
	l.byKey[opts]++
	return l.model, nil
}

func (l *countingLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

type fakeDecoder struct {
	samples []float32
	err     error

	mu    sync.Mutex
	paths []string
}

func (d *fakeDecoder) Decode(_ context.Context, path string) ([]float32, error) {
	d.mu.Lock()
	d.paths = append(d.paths, path)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.samples, nil
}

func tempAudioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(path, []byte("fake audio"), 0o644))
	return path
}

func newTestBackend(t *testing.T, cfg Config, loader model.Loader, dec audio.Decoder) *LocalBackend {
	t.Helper()

	b, err := NewLocal(cfg,
		WithLoader(loader),
		WithDecoder(dec),
		WithProber(noAccelerators{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

type noAccelerators struct{}

func (noAccelerators) Present(device.Kind) bool { return false }

func speechModel() *fakeModel {
	return &fakeModel{
		out: model.Output{
			Text:     "bonjour tout le monde",
			Language: "fr",
			Segments: []model.Segment{
				{End: 1.0, Text: "bonjour", NoSpeechProb: prob(0.1)},
				{End: 2.0, Text: "tout le monde", NoSpeechProb: prob(0.3)},
			},
		},
	}
}

func TestLocalTranscribeHappyPath(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader(speechModel())
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 1}, loader, &fakeDecoder{samples: []float32{0.5, -0.5}})

	res, err := b.Transcribe(context.Background(), Request{AudioPath: tempAudioFile(t), Language: "fr"})
	require.NoError(t, err)
	require.Equal(t, "bonjour tout le monde", res.Text)
	require.Equal(t, "fr", res.Language)
	require.InDelta(t, 0.8, res.Confidence, 1e-9)
	require.InDelta(t, 2.0, res.Duration, 1e-9)
}

func TestLocalSecondCallReusesCachedModel(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader(speechModel())
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 1}, loader, &fakeDecoder{samples: []float32{0.5}})

	audioPath := tempAudioFile(t)
	_, err := b.Transcribe(context.Background(), Request{AudioPath: audioPath})
	require.NoError(t, err)
	_, err = b.Transcribe(context.Background(), Request{AudioPath: audioPath})
	require.NoError(t, err)

	require.Equal(t, 1, loader.loadCount())
}

func TestLocalWarmupLoadsEveryWorker(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader(speechModel())
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 2, Warmup: true}, loader, &fakeDecoder{samples: []float32{0.5}})

	require.Equal(t, len(b.workers), loader.loadCount())

	// A real job after warmup must not trigger another load.
	_, err := b.Transcribe(context.Background(), Request{AudioPath: tempAudioFile(t)})
	require.NoError(t, err)
	require.Equal(t, len(b.workers), loader.loadCount())
}

func TestLocalWarmupFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader(speechModel())
	loader.err = errors.New("model artifact missing")

	b, err := NewLocal(Config{ModelSize: "tiny", Workers: 1, Warmup: true},
		WithLoader(loader),
		WithDecoder(&fakeDecoder{samples: []float32{0.5}}),
		WithProber(noAccelerators{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	// The worker pays the load cost on its first real job instead; once
	// the loader recovers, jobs succeed.
	loader.mu.Lock()
	loader.err = nil
	loader.mu.Unlock()

	_, err = b.Transcribe(context.Background(), Request{AudioPath: tempAudioFile(t)})
	require.NoError(t, err)
}

func TestLocalCPUDeviceLoadsFullPrecision(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader(speechModel())
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 1}, loader, &fakeDecoder{samples: []float32{0.5}})
	require.Equal(t, device.CPU, b.Device())

	_, err := b.Transcribe(context.Background(), Request{AudioPath: tempAudioFile(t)})
	require.NoError(t, err)

	loader.mu.Lock()
	defer loader.mu.Unlock()
	require.Len(t, loader.byKey, 1)
	for opts := range loader.byKey {
		require.Equal(t, device.CPU, opts.Device)
		require.Equal(t, "float32", opts.ComputeType)
		require.Equal(t, "tiny", opts.Size)
	}
}

func TestLocalTimeoutBoundsCallerWaitOnly(t *testing.T) {
	t.Parallel()

	slow := speechModel()
	slow.delay = 300 * time.Millisecond
	loader := newCountingLoader(slow)
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 1}, loader, &fakeDecoder{samples: []float32{0.5}})

	start := time.Now()
	_, err := b.Transcribe(context.Background(), Request{AudioPath: tempAudioFile(t), Timeout: 10 * time.Millisecond})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, ErrTranscription)
	require.Less(t, elapsed, 150*time.Millisecond, "timeout must not wait for the computation to finish")
}

func TestLocalConcurrentJobsRunInParallel(t *testing.T) {
	t.Parallel()

	slow := speechModel()
	slow.delay = 200 * time.Millisecond
	loader := newCountingLoader(slow)
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 2}, loader, &fakeDecoder{samples: []float32{0.5}})
	if len(b.workers) < 2 {
		t.Skip("needs at least two CPUs for a two-worker pool")
	}

	audioPath := tempAudioFile(t)
	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Transcribe(context.Background(), Request{AudioPath: audioPath})
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Less(t, elapsed, 380*time.Millisecond, "two jobs on two workers must overlap")
}

func TestLocalQueuedJobsServedInOrder(t *testing.T) {
	t.Parallel()

	m := speechModel()
	m.delay = 30 * time.Millisecond
	loader := newCountingLoader(m)
	dec := &fakeDecoder{samples: []float32{0.5}}
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 1}, loader, dec)

	dir := t.TempDir()
	paths := make([]string, 3)
	for i := range paths {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".ogg")
		require.NoError(t, os.WriteFile(paths[i], []byte("x"), 0o644))
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := b.Transcribe(context.Background(), Request{AudioPath: p})
			require.NoError(t, err)
		}(p)
		// Give each submission time to land before the next, so FIFO
		// order is observable.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	dec.mu.Lock()
	defer dec.mu.Unlock()
	require.Equal(t, paths, dec.paths)
}

func TestLocalDecodeFailureWrapsBaseError(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader(speechModel())
	dec := &fakeDecoder{err: &audio.DecodeError{Path: "clip.ogg", Output: "Invalid data found", Err: errors.New("exit status 1")}}
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 1}, loader, dec)

	_, err := b.Transcribe(context.Background(), Request{AudioPath: tempAudioFile(t)})
	require.ErrorIs(t, err, ErrTranscription)

	var decodeErr *audio.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.Contains(t, decodeErr.Output, "Invalid data found")
}

func TestLocalMissingAudioFile(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader(speechModel())
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 1}, loader, &fakeDecoder{samples: []float32{0.5}})

	_, err := b.Transcribe(context.Background(), Request{AudioPath: filepath.Join(t.TempDir(), "missing.ogg")})
	require.ErrorIs(t, err, ErrTranscription)
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader(speechModel())
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 1}, loader, &fakeDecoder{samples: []float32{0.5}})

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestLocalRejectsJobsAfterClose(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader(speechModel())
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 1}, loader, &fakeDecoder{samples: []float32{0.5}})

	require.True(t, b.HealthCheck(context.Background()))
	require.NoError(t, b.Close())
	require.False(t, b.HealthCheck(context.Background()))

	_, err := b.Transcribe(context.Background(), Request{AudioPath: tempAudioFile(t)})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestLocalPoolSizeIsBounded(t *testing.T) {
	t.Parallel()

	require.LessOrEqual(t, Config{}.PoolSize(), DefaultWorkerCeiling)
	require.GreaterOrEqual(t, Config{}.PoolSize(), 1)
	require.LessOrEqual(t, Config{Workers: 64}.PoolSize(), 64)
}

func TestLocalAvailableModels(t *testing.T) {
	t.Parallel()

	loader := newCountingLoader(speechModel())
	b := newTestBackend(t, Config{ModelSize: "tiny", Workers: 1}, loader, &fakeDecoder{samples: []float32{0.5}})
	require.Equal(t, model.Sizes(), b.AvailableModels())
	require.Equal(t, "local", b.Name())
}
