package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToRunFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := New("pipeline", Options{Dir: dir, RunID: "run-1"})
	require.NoError(t, err)
	defer logger.Close()

	logger.Infof("hello %s", "world")
	require.NoError(t, logger.Close())

	assert.Equal(t, filepath.Join(dir, "run-1-sessionpilot.log"), logger.LogPath())
	data, err := os.ReadFile(logger.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "[pipeline] [INFO] hello world")
}

func TestNewGeneratesRunID(t *testing.T) {
	logger, err := New("x", Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer logger.Close()

	assert.NotEmpty(t, logger.RunID())
	assert.True(t, strings.HasPrefix(filepath.Base(logger.LogPath()), logger.RunID()))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("captcha", Options{Writer: &buf, Level: LevelWarn})
	require.NoError(t, err)

	logger.Debugf("debug")
	logger.Infof("info")
	logger.Warnf("warn")
	logger.Errorf("error")

	out := buf.String()
	assert.NotContains(t, out, "[DEBUG]")
	assert.NotContains(t, out, "[INFO]")
	assert.Contains(t, out, "[captcha] [WARN] warn")
	assert.Contains(t, out, "[captcha] [ERROR] error")
}

func TestWithSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	root, err := New("root", Options{Writer: &buf})
	require.NoError(t, err)

	child := root.With("mail")
	child.Infof("polling")

	assert.Contains(t, buf.String(), "[mail] [INFO] polling")
	assert.Equal(t, root.RunID(), child.RunID())
}

func TestConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("c", Options{Writer: &buf})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Infof("line %d", i)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(buf.String(), "\n"))
}

func TestFallbackWhenDirUnusable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	logger, err := New("x", Options{Dir: filepath.Join(file, "logs")})
	assert.Error(t, err)
	require.NotNil(t, logger)
	assert.Empty(t, logger.LogPath())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("whatever"))
}

func TestNopDiscards(t *testing.T) {
	l := NewNop()
	l.Errorf("nothing")
	assert.NoError(t, l.Close())
}
