package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo, FormatJSON)
	logger.SetOutput(&buf)

	logger.WithField("platform", "storefront").WithFields(map[string]interface{}{"orders": 3}).Info("fetched")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "info", entry.Level)
	assert.Equal(t, "fetched", entry.Message)
	assert.Equal(t, "storefront", entry.Fields["platform"])
	assert.Equal(t, float64(3), entry.Fields["orders"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelWarn, FormatText)
	logger.SetOutput(&buf)

	logger.Info("hidden")
	logger.Debug("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "warn: shown")
}

func TestLogger_ChildrenShareOutput(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(LevelInfo, FormatText)
	child := parent.WithField("k", "v")
	parent.SetOutput(&buf)

	child.Info("from child")
	assert.True(t, strings.Contains(buf.String(), "from child k=v"))

	// parent fields are not mutated by children
	assert.Empty(t, parent.fields)
}

func TestFromContext(t *testing.T) {
	logger := NewLogger(LevelDebug, FormatJSON)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevelAndFormat(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, LevelInfo, ParseLogLevel("verbose"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("xml"))
}
