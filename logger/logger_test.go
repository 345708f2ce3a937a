package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}

	return out
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Service: "lobbyd", Level: "info", Format: FormatJSON, Output: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("accepted", Field{Key: "fd", Value: 7})
	log.With(Field{Key: "component", Value: "egress"}).Error("write failed", Err(errors.New("broken pipe")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "lobbyd", lines[0]["service"])
	assert.Equal(t, "accepted", lines[0]["message"])
	assert.EqualValues(t, 7, lines[0]["fd"])
	assert.Contains(t, lines[0], "time")

	assert.Equal(t, "egress", lines[1]["component"])
	assert.Equal(t, "broken pipe", lines[1]["error"])
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Service: "lobbyd", Output: &buf})
	require.NoError(t, err)

	log.Warn("pool exhausted", Field{Key: "free", Value: 0})
	assert.Contains(t, buf.String(), "pool exhausted")
	assert.Contains(t, buf.String(), "free=")
}

func TestNew_BadOptions(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	assert.Error(t, err)

	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestNew_WithDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer

	log, err := New(Options{Service: "lobbyd", Format: FormatJSON, Dir: dir, Output: &buf})
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	name := filepath.Join(dir, "lobbyd_"+time.Now().Format(time.DateOnly)+".log")
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Error("ignored", Field{Key: "k", Value: "v"})
	assert.NoError(t, log.With(Field{Key: "a", Value: 1}).Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDailyFileWriter_Rotation(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	clock := func() time.Time { return day }

	w, err := newDailyFileWriter("svc", dir, clock)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "svc_2024-03-01.log"), w.CurrentLogFile())

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)

	day = day.Add(2 * time.Minute)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "svc_2024-03-02.log"), w.CurrentLogFile())

	require.NoError(t, w.Close())
	assert.Empty(t, w.CurrentLogFile())

	_, err = w.Write([]byte("late\n"))
	assert.ErrorIs(t, err, errWriterClosed)
	assert.ErrorIs(t, w.ForceRotate(), errWriterClosed)

	first, err := os.ReadFile(filepath.Join(dir, "svc_2024-03-01.log"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(first))

	second, err := os.ReadFile(filepath.Join(dir, "svc_2024-03-02.log"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(second))
}
