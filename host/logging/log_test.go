package logging

import (
	"bytes"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T, level pterm.LogLevel) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	saved := *logger
	t.Cleanup(func() { *logger = saved })

	pterm.DisableColor()
	t.Cleanup(pterm.EnableColor)

	logger.Writer = &buf
	logger.Level = level
	return &buf
}

func TestComponentField(t *testing.T) {
	buf := captureLog(t, pterm.LogLevelInfo)

	For("transport").Warn("read failed: %v", "broken pipe")

	out := buf.String()
	assert.Contains(t, out, "read failed: broken pipe")
	assert.Contains(t, out, "component")
	assert.Contains(t, out, "transport")
}

func TestDebugFiltered(t *testing.T) {
	buf := captureLog(t, pterm.LogLevelInfo)

	For("reader").Debug("dropped frame")
	assert.Empty(t, buf.String())

	EnableDebug()
	Debug("dropped frame")
	assert.Contains(t, buf.String(), "dropped frame")
}
