package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("GEMA_CAREER_API_BASE_URL", "https://career.example.com/api")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 3*time.Second, cfg.PollInterval)
	require.Equal(t, 90*time.Second, cfg.PollTimeout)
	require.Equal(t, 800*time.Millisecond, cfg.RefreshDelay)
	require.Equal(t, 30*time.Minute, cfg.SessionTTL)
	require.Zero(t, cfg.CareerAPITimeout)
	require.False(t, cfg.ResetBudgetOnRetry)
	require.Equal(t, 10, cfg.EvidenceMaxSizeMB)
	require.Equal(t, StateDriverRedis, cfg.StateDriver)
	require.Equal(t, "gema.roadmap", cfg.NATSSubject)

	require.Error(t, cfg.ValidateServer())
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("GEMA_CAREER_API_BASE_URL", "https://career.example.com/api")
	t.Setenv("GEMA_ROADMAP_POLL_TIMEOUT", "2m")
	t.Setenv("GEMA_ROADMAP_RESET_BUDGET_ON_RETRY", "true")
	t.Setenv("GEMA_STATE_DRIVER", "SQLite")
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_API_TOKEN", " token ")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, cfg.PollTimeout)
	require.True(t, cfg.ResetBudgetOnRetry)
	require.Equal(t, StateDriverSQLite, cfg.StateDriver)
	require.Equal(t, "token", cfg.APIToken)
	require.NoError(t, cfg.ValidateServer())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("GEMA_CAREER_API_BASE_URL", "")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("GEMA_CAREER_API_BASE_URL", "https://career.example.com/api")
	t.Setenv("GEMA_ROADMAP_POLL_INTERVAL", "soon")
	_, err = Load()
	require.Error(t, err)
}
