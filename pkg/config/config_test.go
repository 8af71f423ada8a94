package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasSaneDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 300, cfg.Session.ExpirySeconds)
}

func TestConnectionStringPrefersExplicitDSN(t *testing.T) {
	db := DatabaseConfig{DSN: "postgres://explicit", Host: "ignored"}
	assert.Equal(t, "postgres://explicit", db.ConnectionString())
}

func TestConnectionStringBuildsFromParts(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "balsam", SSLMode: "disable"}
	got := db.ConnectionString()
	assert.Contains(t, got, "host=db")
	assert.Contains(t, got, "dbname=balsam")
}

func TestLoadFromFileAppliesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\ndatabase:\n  name: fromfile\n"), 0o644))

	cfg := New()
	require.NoError(t, loadFromFile(path, cfg))
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "fromfile", cfg.Database.Name)
}

func TestLoadFromFileMissingIsNotAnError(t *testing.T) {
	cfg := New()
	err := loadFromFile(filepath.Join(t.TempDir(), "missing.yaml"), cfg)
	assert.NoError(t, err)
}

func TestLoadAppliesDatabaseURLOverride(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "postgres://override")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://override", cfg.Database.DSN)
}

func TestSessionDurationHelpers(t *testing.T) {
	s := SessionConfig{ExpirySeconds: 10, SweepIntervalMS: 500}
	assert.Equal(t, int64(10), s.Expiry().Milliseconds()/1000)
	assert.Equal(t, int64(500), s.SweepInterval().Milliseconds())
}

func TestSchedulerDurationHelpersAndDefaultDisabled(t *testing.T) {
	cfg := New()
	assert.False(t, cfg.Scheduler.Enabled)

	s := SchedulerConfig{SweepIntervalMS: 2000, CircuitTimeoutSeconds: 30}
	assert.Equal(t, int64(2000), s.SweepInterval().Milliseconds())
	assert.Equal(t, int64(30), s.CircuitTimeout().Milliseconds()/1000)
}
