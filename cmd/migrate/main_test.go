package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/eshop/internal/storage/postgres"
)

type fakeMigrator struct {
	calls  []string
	steps  int
	state  postgres.MigrationState
	upErr  error
	closed bool
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.calls = append(f.calls, "up")
	f.steps = steps
	return f.upErr
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.calls = append(f.calls, "down")
	f.steps = steps
	return nil
}

func (f *fakeMigrator) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	f.calls = append(f.calls, "status")
	return f.state, nil
}

func (f *fakeMigrator) Close() error {
	f.closed = true
	return nil
}

func withFakeStore(t *testing.T, fake *fakeMigrator) {
	t.Helper()
	old := openStore
	openStore = func(context.Context, string) (migrator, error) { return fake, nil }
	t.Cleanup(func() { openStore = old })
}

func TestParseOptions(t *testing.T) {
	t.Setenv("ESHOP_POSTGRES_DSN", "")

	_, err := parseOptions([]string{"-cmd=up"})
	require.ErrorContains(t, err, "ESHOP_POSTGRES_DSN")

	_, err = parseOptions([]string{"-cmd=sideways", "-dsn=postgres://x"})
	require.ErrorContains(t, err, "unsupported command")

	_, err = parseOptions([]string{"-steps=abc", "-dsn=postgres://x"})
	require.Error(t, err)

	t.Setenv("ESHOP_POSTGRES_DSN", "postgres://env")
	opts, err := parseOptions([]string{"-cmd=DOWN", "-steps=2"})
	require.NoError(t, err)
	require.Equal(t, options{command: "down", steps: 2, dsn: "postgres://env"}, opts)
}

func TestRunUp(t *testing.T) {
	fake := &fakeMigrator{state: postgres.MigrationState{Version: 3, Applied: 3}}
	withFakeStore(t, fake)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-cmd=up", "-dsn=postgres://x"}, &out))
	require.Equal(t, []string{"up", "status"}, fake.calls)
	require.Equal(t, 0, fake.steps)
	require.True(t, fake.closed)
	require.Equal(t, "migrate up ok: version=3 applied=3\n", out.String())
}

func TestRunStatusListsPending(t *testing.T) {
	fake := &fakeMigrator{state: postgres.MigrationState{Version: 1, Applied: 1, Pending: []string{"0002_outbox"}}}
	withFakeStore(t, fake)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-cmd=status", "-dsn=postgres://x"}, &out))
	require.Equal(t, []string{"status"}, fake.calls)
	require.Contains(t, out.String(), "pending: 0002_outbox")
}

func TestRunDown(t *testing.T) {
	fake := &fakeMigrator{}
	withFakeStore(t, fake)

	require.NoError(t, run(context.Background(), []string{"-cmd=down", "-steps=1", "-dsn=postgres://x"}, &bytes.Buffer{}))
	require.Equal(t, []string{"down", "status"}, fake.calls)
	require.Equal(t, 1, fake.steps)
}

func TestRunPropagatesErrors(t *testing.T) {
	fake := &fakeMigrator{upErr: errors.New("boom")}
	withFakeStore(t, fake)

	err := run(context.Background(), []string{"-dsn=postgres://x"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "migrate up failed: boom")
	require.True(t, fake.closed)

	openStore = func(context.Context, string) (migrator, error) { return nil, errors.New("refused") }
	err = run(context.Background(), []string{"-dsn=postgres://x"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "open postgres store: refused")
}
