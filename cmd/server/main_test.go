package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Formsy/internal/config"
	"github.com/soaringjerry/Formsy/internal/db"
	"github.com/soaringjerry/Formsy/internal/jobs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStoreSQLiteRunsMigrations(t *testing.T) {
	cfg := config.Default()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "nested", "formsy.db")

	store, err := openStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer store.Close()
	_, ok := store.(*db.SQLiteStore)
	require.True(t, ok)

	forms, err := store.ListFormsByOwner(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, forms)

	// Reopening applies the same migrations again without error.
	require.NoError(t, store.Close())
	again, err := openStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestOpenStoreMemory(t *testing.T) {
	cfg := config.Default()
	cfg.DBDriver = "memory"
	store, err := openStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	_, ok := store.(*db.MemoryStore)
	assert.True(t, ok)
}

func TestNewPublisher(t *testing.T) {
	cfg := config.Default().Relay

	p, err := newPublisher(cfg, discardLogger())
	require.NoError(t, err)
	_, ok := p.(*jobs.LogPublisher)
	assert.True(t, ok)

	cfg.Publisher = "kafka"
	cfg.KafkaBrokers = []string{"localhost:9092"}
	p, err = newPublisher(cfg, discardLogger())
	require.NoError(t, err)
	_, ok = p.(*jobs.KafkaPublisher)
	assert.True(t, ok)
	require.NoError(t, p.Close())

	cfg.Publisher = "smoke-signals"
	_, err = newPublisher(cfg, discardLogger())
	require.Error(t, err)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := newRootCommand()
	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "migrate")
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("env-file"))
}
