package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEntry struct {
	level  string
	msg    string
	err    error
	fields watermill.LogFields
}

type recordingWatermillLogger struct {
	fields  watermill.LogFields
	entries *[]recordedEntry
}

func newRecordingWatermillLogger() *recordingWatermillLogger {
	return &recordingWatermillLogger{entries: &[]recordedEntry{}}
}

func (r *recordingWatermillLogger) record(level, msg string, err error, fields watermill.LogFields) {
	merged := watermill.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*r.entries = append(*r.entries, recordedEntry{level: level, msg: msg, err: err, fields: merged})
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record("error", msg, err, fields)
}
func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record("info", msg, nil, fields)
}
func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record("debug", msg, nil, fields)
}
func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record("trace", msg, nil, fields)
}
func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &recordingWatermillLogger{fields: r.fields.Add(fields), entries: r.entries}
}

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "rpc"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})
	boom := errors.New("boom")
	logger.Error("oops", boom, LogFields{"pattern": "lead.create"})
	logger.With(LogFields{"destination": "lead"}).Info("child", nil)

	entries := *base.entries
	require.Len(t, entries, 5)
	assert.Equal(t, "debug", entries[0].level)
	assert.Equal(t, "rpc", entries[0].fields["component"])
	assert.Equal(t, "trace", entries[2].level)
	assert.Same(t, boom, entries[3].err)
	assert.Equal(t, "lead", entries[4].fields["destination"])
}

func TestWatermillServiceLoggerWithEmptyFieldsReturnsSelf(t *testing.T) {
	logger := NewWatermillServiceLogger(newRecordingWatermillLogger())
	assert.Same(t, logger, logger.With(nil))
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestWatermillAdapterRoundTrip(t *testing.T) {
	base := newRecordingWatermillLogger()
	adapter := NewWatermillAdapter(NewWatermillServiceLogger(base))

	adapter.Info("router started", watermill.LogFields{"handlers": 3})
	adapter.With(watermill.LogFields{"topic": "lead_queue"}).Debug("subscribed", nil)
	adapter.Error("publish failed", errors.New("closed"), nil)
	adapter.Trace("tick", nil)

	entries := *base.entries
	require.Len(t, entries, 4)
	assert.Equal(t, 3, entries[0].fields["handlers"])
	assert.Equal(t, "lead_queue", entries[1].fields["topic"])
	assert.EqualError(t, entries[2].err, "closed")
}

func TestJSONServiceLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONServiceLogger(&buf, slog.LevelInfo, "gateway")

	logger.Debug("hidden", nil)
	logger.Info("call completed", LogFields{"pattern": "lead.getAll"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "call completed", entry["msg"])
	assert.Equal(t, "gateway", entry["service"])
	assert.Equal(t, "lead.getAll", entry["pattern"])
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.With(LogFields{"a": 1}).Error("ignored", errors.New("x"), nil)
	})
}
