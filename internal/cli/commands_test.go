package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parlo-app/parlo-stt/internal/download"
	"github.com/parlo-app/parlo-stt/internal/transcription"
)

func TestModelsCommandListsKnownSizes(t *testing.T) {
	t.Parallel()

	out := new(bytes.Buffer)
	app := &appState{
		modelSize: "small",
		modelDir:  t.TempDir(),
		out:       out,
	}

	cmd := newModelsCmd(app)
	cmd.SetOut(out)
	cmd.SetErr(out)

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "tiny")
	require.Contains(t, out.String(), "large-v3")
	require.Contains(t, out.String(), "not downloaded")
	require.Contains(t, out.String(), "* small")
}

func TestHealthCommandReportsHealthy(t *testing.T) {
	t.Parallel()

	out := new(bytes.Buffer)
	backend := &fakeBackend{healthy: true}
	app := &appState{
		backend: "mock",
		out:     out,
		newBackendFn: func(cfg transcription.Config) (transcription.Backend, error) {
			require.False(t, cfg.Warmup)
			return backend, nil
		},
	}

	cmd := newHealthCmd(app)
	cmd.SetOut(out)
	cmd.SetErr(out)

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "fake: healthy")
	require.Equal(t, 1, backend.closed)
}

func TestHealthCommandFailsWhenUnhealthy(t *testing.T) {
	t.Parallel()

	out := new(bytes.Buffer)
	backend := &fakeBackend{healthy: false}
	app := &appState{
		backend: "mock",
		out:     out,
		newBackendFn: func(transcription.Config) (transcription.Backend, error) {
			return backend, nil
		},
	}

	cmd := newHealthCmd(app)
	cmd.SetOut(out)
	cmd.SetErr(out)

	err := cmd.Execute()
	require.ErrorIs(t, err, errUnhealthy)
	require.Contains(t, out.String(), "fake: unhealthy")
}

func TestSetupCommandDownloadsEvenWithoutAutoDownload(t *testing.T) {
	t.Parallel()

	out := new(bytes.Buffer)
	downloads := 0
	app := &appState{
		modelSize:    "tiny",
		modelDir:     t.TempDir(),
		autoDownload: false,
		noProgress:   true,
		out:          out,
		downloadFn: func(_ context.Context, opts download.Options) error {
			downloads++
			require.NotEmpty(t, opts.ExpectedSHA256)
			return nil
		},
	}

	cmd := newSetupCmd(app)
	cmd.SetOut(out)
	cmd.SetErr(out)

	require.NoError(t, cmd.Execute())
	require.Equal(t, 1, downloads)
	require.Contains(t, out.String(), `Model "tiny" ready at`)
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	t.Parallel()

	out := new(bytes.Buffer)
	cmd := newVersionCmd()
	cmd.SetOut(out)
	cmd.SetErr(out)

	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "parlo-stt v")
}
