package logger

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSetup_buildFailureFallsBack(t *testing.T) {
	prev := defaultLogger
	t.Cleanup(func() { defaultLogger = prev })

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{filepath.Join(t.TempDir(), "missing", "dir", "qc.log")}

	var buf bytes.Buffer
	setup(cfg, zapcore.AddSync(&buf))

	require.Contains(t, buf.String(), "falling back to stderr")

	Info(context.Background(), "[login] still visible")
	require.Contains(t, buf.String(), "[login] still visible")
}
