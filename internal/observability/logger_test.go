package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogger(t *testing.T) {
	t.Helper()

	reset := func() {
		_ = CloseLogger()
		logMu.Lock()
		initialized = false
		logMu.Unlock()
	}
	reset()
	t.Cleanup(reset)
}

func TestInitLoggerWithDir_MirrorsToFile(t *testing.T) {
	resetLogger(t)
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, InitLoggerWithDir("info", false, dir))
	l := Component("test")
	l.Info().Str("job_id", "abc").Msg("hello file")
	require.NoError(t, CloseLogger())

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), "hello file")
}

func TestInitLogger_OnlyOnce(t *testing.T) {
	resetLogger(t)

	InitLogger("debug", false)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	InitLogger("error", false)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger, id := WithCorrelationID(base, "req-42")
	assert.Equal(t, "req-42", id)
	logger.Info().Msg("x")
	assert.Contains(t, buf.String(), `"correlation_id":"req-42"`)

	buf.Reset()
	logger, id = WithCorrelationID(base, "")
	assert.NotEmpty(t, id)
	logger.Info().Msg("y")
	assert.Contains(t, buf.String(), id)
}
