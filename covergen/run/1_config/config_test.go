package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	diag "github.com/toejough/covers/covergen/run/0_diag"
	config "github.com/toejough/covers/covergen/run/1_config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	opts, err := config.Load(newFlags(t), noEnv)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultPrefix, opts.Prefix)
	assert.Equal(t, config.DefaultTag, opts.Tag)
	assert.False(t, opts.DryRun)
	assert.Equal(t, slog.LevelWarn, opts.Log.Level)
	assert.True(t, opts.Known())
}

func TestLoad_Precedence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "covers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prefix: __\ntag: fromfile\nlog:\n  level: info\n"), 0o600))

	t.Run("file over defaults", func(t *testing.T) {
		t.Parallel()

		opts, err := config.Load(newFlags(t, "--config", path), noEnv)
		require.NoError(t, err)
		assert.Equal(t, config.PrefixDouble, opts.Prefix)
		assert.Equal(t, "fromfile", opts.Tag)
		assert.Equal(t, slog.LevelInfo, opts.Log.Level)
	})

	t.Run("env over file", func(t *testing.T) {
		t.Parallel()

		env := map[string]string{"COVERS_PREFIX": "_orig_", "COVERS_LOG_LEVEL": "error"}

		opts, err := config.Load(newFlags(t, "--config", path), mapEnv(env))
		require.NoError(t, err)
		assert.Equal(t, config.PrefixOrig, opts.Prefix)
		assert.Equal(t, "fromfile", opts.Tag)
		assert.Equal(t, slog.LevelError, opts.Log.Level)
	})

	t.Run("flag over env", func(t *testing.T) {
		t.Parallel()

		env := map[string]string{"COVERS_PREFIX": "_orig_"}

		opts, err := config.Load(newFlags(t, "--config", path, "--prefix", "x_"), mapEnv(env))
		require.NoError(t, err)
		assert.Equal(t, "x_", opts.Prefix)
		assert.False(t, opts.Known())
	})
}

func TestLoad_VerboseForcesDebug(t *testing.T) {
	t.Parallel()

	opts, err := config.Load(newFlags(t, "-v"), noEnv)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, opts.Log.Level)
}

func TestLoad_MissingExplicitConfigFails(t *testing.T) {
	t.Parallel()

	_, err := config.Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")), noEnv)
	require.ErrorIs(t, err, diag.ErrInvalidConfiguration)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prefix  string
		tag     string
		wantErr bool
	}{
		{name: "default", prefix: "_", tag: "covers"},
		{name: "double underscore", prefix: "__", tag: "covers"},
		{name: "orig", prefix: "_orig_", tag: "covers"},
		{name: "unknown lower-case accepted verbatim", prefix: "real", tag: "covers"},
		{name: "empty prefix", prefix: "", tag: "covers", wantErr: true},
		{name: "exported prefix would widen visibility", prefix: "Orig", tag: "covers", wantErr: true},
		{name: "non-identifier prefix", prefix: "a-b", tag: "covers", wantErr: true},
		{name: "empty tag", prefix: "_", tag: "", wantErr: true},
		{name: "negated tag", prefix: "_", tag: "!covers", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := config.Options{Prefix: tt.prefix, Tag: tt.tag}.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, diag.ErrInvalidConfiguration)
				return
			}

			require.NoError(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelWarn},
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"-4", slog.LevelDebug},
		{"loud", slog.LevelWarn},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, config.ParseLevel(tt.in, slog.LevelWarn), "level %q", tt.in)
	}
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("covergen", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))

	return flags
}

func mapEnv(env map[string]string) func(string) string {
	return func(key string) string { return env[key] }
}

func noEnv(string) string { return "" }
