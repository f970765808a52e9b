package db

import (
	"testing"
	"time"

	"contextly-rewards/pkg/config"
	"contextly-rewards/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestPluginsGatedOnConfig(t *testing.T) {
	gdb := testutil.NewTestDB(t)
	cfg := &config.Config{}
	cfg.Database.Type = "sqlite"

	before := len(gdb.Config.Plugins)

	// Both disabled: nothing registered.
	require.NoError(t, registerPlugins(gdb, cfg))
	require.Len(t, gdb.Config.Plugins, before)

	cfg.Database.Otel = true
	cfg.Database.Metrics = true
	require.NoError(t, registerPlugins(gdb, cfg))
	require.Greater(t, len(gdb.Config.Plugins), before)
}

func TestGormLoggerSlowThreshold(t *testing.T) {
	l := NewZapGormLogger(zap.L(), logger.Warn, false, 50*time.Millisecond)
	require.Equal(t, 50*time.Millisecond, l.SlowThreshold)

	// Zero falls back to the default.
	l = NewZapGormLogger(zap.L(), logger.Warn, false, 0)
	require.Equal(t, 200*time.Millisecond, l.SlowThreshold)
}
