package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	for _, backend := range []string{"zap", "zerolog"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			l, err := NewLogger(&LoggerConfig{
				AppName:  "roomtest",
				FilePath: dir,
				Encoding: "json",
				Level:    "info",
				Logger:   backend,
			})
			require.NoError(t, err)

			l.Debug(General, Startup, "below level", nil)
			l.Info(Room, Join, "participant joined", map[ExtraKey]any{RoomCode: "XY12"})

			data, err := os.ReadFile(filepath.Join(dir, "roomtest.log"))
			require.NoError(t, err)
			assert.Contains(t, string(data), "participant joined")
			assert.Contains(t, string(data), "XY12")
			assert.Contains(t, string(data), `"Category":"Room"`)
			assert.NotContains(t, string(data), "below level")
		})
	}
}

func TestNewLogger_Unsupported(t *testing.T) {
	_, err := NewLogger(&LoggerConfig{Logger: "logrus"})
	assert.Error(t, err)
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Info(General, Startup, "nothing", map[ExtraKey]any{Reason: "test"})
		l.Warnf("nothing %d", 1)
	})
}
