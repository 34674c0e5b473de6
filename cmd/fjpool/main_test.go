package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahsin716/fjpool"
)

func parseFlags(t *testing.T, args ...string) (*options, *pflag.FlagSet) {
	t.Helper()
	opts := newOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.addFlags(fs)
	require.NoError(t, fs.Parse(args))
	return opts, fs
}

func buildConfig(t *testing.T, opts []fjpool.Option) fjpool.Config {
	t.Helper()
	cfg := fjpool.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestPoolOptions_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: file\nparallelism: 3\nmaxWorkers: 20\n"), 0o600))

	opts, fs := parseFlags(t, "--config", path, "-p", "5", "--idle-timeout", "2s")
	poolOpts, err := opts.poolOptions(fs)
	require.NoError(t, err)

	cfg := buildConfig(t, poolOpts)
	assert.Equal(t, "file", cfg.Name)
	assert.Equal(t, 5, cfg.Parallelism)
	assert.Equal(t, 20, cfg.MaxWorkers)
	assert.Equal(t, 2*time.Second, cfg.IdleTimeout)
}

func TestPoolOptions_Defaults(t *testing.T) {
	opts, fs := parseFlags(t)
	poolOpts, err := opts.poolOptions(fs)
	require.NoError(t, err)
	assert.Empty(t, poolOpts)
}

func TestPoolOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no submitters", args: []string{"--submitters", "0"}},
		{name: "negative rounds", args: []string{"--rounds", "-1"}},
		{name: "zero threshold", args: []string{"--threshold", "0"}},
		{name: "missing config", args: []string{"--config", "/nonexistent/pool.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, fs := parseFlags(t, tt.args...)
			_, err := opts.poolOptions(fs)
			assert.Error(t, err)
		})
	}
}

func TestMergeSort(t *testing.T) {
	p, err := fjpool.NewPool(fjpool.WithParallelism(4), fjpool.WithName("sort"))
	require.NoError(t, err)
	defer func() {
		p.Shutdown()
		p.AwaitTermination(5 * time.Second)
	}()

	for _, n := range []int{0, 1, 17, 5000, 1 << 16} {
		data := randomSlice(n, uint64(n))
		job := fjpool.NewAction(func(w *fjpool.Worker) error {
			return mergeSort(w, data, make([]int64, len(data)), 64)
		})
		require.NoError(t, p.Invoke(context.Background(), job))
		assert.True(t, isSorted(data), "size %d not sorted", n)
	}
}

func TestRunWorkload(t *testing.T) {
	p, err := fjpool.NewPool(fjpool.WithParallelism(2))
	require.NoError(t, err)
	defer p.ShutdownNow()

	opts := newOptions()
	opts.rounds = 6
	opts.submitters = 3
	opts.size = 4096
	opts.threshold = 128

	require.NoError(t, runWorkload(context.Background(), logr.Discard(), p, opts))
	assert.EqualValues(t, 6, p.Stats().Submitted)
}

func TestRenderStats(t *testing.T) {
	p, err := fjpool.NewPool(fjpool.WithParallelism(2), fjpool.WithName("render"))
	require.NoError(t, err)
	require.NoError(t, p.Execute(func() {}))
	require.True(t, p.AwaitQuiescence(5*time.Second))

	out := renderStats(p.Stats(), 1500*time.Millisecond)
	assert.Contains(t, out, "render")
	assert.Contains(t, out, p.ID())
	assert.Contains(t, out, "1.5s")
	assert.True(t, strings.Contains(out, "Submitted"))

	p.ShutdownNow()
	require.True(t, p.AwaitTermination(5*time.Second))
	out = renderStats(p.Stats(), 0)
	assert.NotContains(t, out, "WORKER")
}
