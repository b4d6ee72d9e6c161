package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "wichtel version dev (commit: unknown)\n", out)
}

func TestValidateCommand(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Equal(t, "configuration valid\n", out)
}

func TestValidateCommand_InvalidConfig(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("DRAW_TIMEOUT", "forever")

	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DRAW_TIMEOUT")

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitInvalidConfig, ee.code)
	assert.Equal(t, exitInvalidConfig, run([]string{"validate"}))
}

func TestConfigCommand_MasksSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://wichtel:hunter2@db/wichtel")
	t.Setenv("NOTIFY_WEBHOOK_SECRET", "s3cret")

	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, `"database_url": "postgres://***"`)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
}

func TestMigrateCommand_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := execute(t, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	_, err = execute(t, "migrate", "down", "zero")
	assert.ErrorContains(t, err, "steps must be a positive integer")
}

func TestWorkerCommand_RequiresNATS(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("NOTIFY_TRANSPORT", "channel")

	_, err := execute(t, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOTIFY_TRANSPORT=nats")
}

func TestRun_UnknownCommand(t *testing.T) {
	assert.Equal(t, exitRuntimeError, run([]string{"frobnicate"}))
}
