package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	p := &Profile{}
	p.FromEnv()

	require.Equal(t, "dev", p.Mode)
	require.Equal(t, 8230, p.Port)
	require.Equal(t, "sqlite", p.Driver)
	require.Equal(t, 4096, p.MaxContextTokens)
	require.Equal(t, 12, p.RecentMaxTurns)
	require.Equal(t, 10, p.SummarizeThreshold)
	require.Equal(t, 5*time.Minute, p.SummarizeDelay)
	require.Equal(t, 24*time.Hour, p.SummarizeIdle)
	require.Equal(t, 7*24*time.Hour, p.ReactivationIdle)
	require.Equal(t, 7*24*time.Hour, p.ConsentTTL)
	require.Equal(t, 2, p.JobWorkers)
	require.False(t, p.IsAIEnabled())
	require.True(t, p.IsDev())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("RECALL_MODE", "prod")
	t.Setenv("RECALL_PORT", "9001")
	t.Setenv("RECALL_DRIVER", "postgres")
	t.Setenv("RECALL_AI_API_KEY", "sk-test")
	t.Setenv("RECALL_SUMMARIZE_THRESHOLD", "4")
	t.Setenv("RECALL_REACTIVATION_IDLE", "72h")

	p := &Profile{}
	p.FromEnv()

	require.Equal(t, "prod", p.Mode)
	require.Equal(t, 9001, p.Port)
	require.Equal(t, "postgres", p.Driver)
	require.Equal(t, 4, p.SummarizeThreshold)
	require.Equal(t, 72*time.Hour, p.ReactivationIdle)
	require.True(t, p.IsAIEnabled())
	require.False(t, p.IsDev())
}

func TestValidate(t *testing.T) {
	t.Run("UnknownDriver", func(t *testing.T) {
		p := &Profile{}
		p.FromEnv()
		p.Driver = "mysql"
		p.Data = t.TempDir()
		require.Error(t, p.Validate())
	})

	t.Run("PostgresNeedsDSN", func(t *testing.T) {
		p := &Profile{}
		p.FromEnv()
		p.Driver = "postgres"
		p.Data = t.TempDir()
		require.Error(t, p.Validate())
	})

	t.Run("SqliteDefaultDSN", func(t *testing.T) {
		p := &Profile{}
		p.FromEnv()
		p.Data = t.TempDir()
		require.NoError(t, p.Validate())
		require.NotEmpty(t, p.DSN)
	})
}
