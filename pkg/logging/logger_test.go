package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("pool", &buf)

	l.Infof("created %d sessions", 3)

	line := buf.String()
	assert.Contains(t, line, "[pool] [INFO] created 3 sessions")
	assert.True(t, strings.HasPrefix(line, "["))
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New("workflow", &buf)
	l.SetLevel(LevelWarn)

	l.Debugf("hidden")
	l.Infof("hidden")
	l.Warnf("shown")
	l.Errorf("also shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown")
	assert.Contains(t, out, "[ERROR] also shown")
}

func TestNamedSharesSink(t *testing.T) {
	var buf bytes.Buffer
	root := New("root", &buf)
	root.SetLevel(LevelDebug)

	child := root.Named("classify")
	child.Debugf("poll %d", 1)

	assert.Contains(t, buf.String(), "[classify] [DEBUG] poll 1")
	assert.Equal(t, root.RunID(), child.RunID())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Infof("nothing") })
}
