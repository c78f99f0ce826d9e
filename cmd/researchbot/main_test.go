package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchbot/internal/config"
)

func TestNewTransportConsole(t *testing.T) {
	cfg := config.Defaults()
	cfg.Platform.Name = config.PlatformConsole

	tr, err := newTransport(cfg)
	require.NoError(t, err)
	assert.Equal(t, "console", tr.Name())
}

func TestNewTransportUnknown(t *testing.T) {
	cfg := config.Defaults()
	cfg.Platform.Name = "irc"

	_, err := newTransport(cfg)
	assert.ErrorContains(t, err, "unknown platform")
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	closeFn, err := setupLogger(config.GeneralConfig{LogLevel: "debug", LogFile: path})
	require.NoError(t, err)

	logger.Debug("hello from test")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

func TestSetupLoggerRejectsLevel(t *testing.T) {
	_, err := setupLogger(config.GeneralConfig{LogLevel: "loud"})
	assert.Error(t, err)
}
