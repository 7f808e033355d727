package logsvc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/masomo-breakglass/core/user"
)

func TestRollbarLogger_fields(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	l := RollbarLogger{zap: zap.New(obs)}

	usr := user.User{ID: "u1", Username: "jane"}
	l.Error("audit entry not persisted", errors.New("boom"), map[string]interface{}{"action": "x"}, usr, usr)
	l.Info("swept", 3)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	errEntry := entries[0]
	assert.Equal(t, zapcore.ErrorLevel, errEntry.Level)
	assert.Equal(t, "audit entry not persisted", errEntry.Message)
	ctx := errEntry.ContextMap()
	assert.Equal(t, "boom", ctx["error"])
	assert.Equal(t, map[string]interface{}{"action": "x"}, ctx["extras"])
	assert.Equal(t, "u1", ctx["user_id"])
	assert.Len(t, errEntry.Context, 3) // the second user is dropped

	assert.Equal(t, int64(3), entries[1].ContextMap()["arg0"])
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Debug("debug")
		l.Warn("warn", errors.New("boom"), user.User{ID: "u1"})
	})
}
