package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/wsfetch/internal/config"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		SetVersionInfo(origVersion, origCommit, origBuildDate)
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		assert.Nil(t, GetAppIdentity())
	})

	t.Run("returns identity after set", func(t *testing.T) {
		orig := appIdentity
		defer func() { appIdentity = orig }()

		id := config.DefaultIdentity()
		appIdentity = &id
		assert.Equal(t, &id, GetAppIdentity())
	})
}

func TestExitError(t *testing.T) {
	base := errors.New("boom")
	err := exitError(foundry.ExitInvalidArgument, "Invalid manifest", base)

	require.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "Invalid manifest: boom")
	assert.Equal(t, foundry.ExitInvalidArgument, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("plain")))
	assert.Equal(t, foundry.ExitSignalInt, exitCode(fmt.Errorf("wait: %w", context.Canceled)))

	wrapped := fmt.Errorf("outer: %w", exitError(foundry.ExitFileWriteError, "write", errors.New("disk full")))
	assert.Equal(t, foundry.ExitFileWriteError, exitCode(wrapped))
}

func TestLoadConfig_DataDirFlag(t *testing.T) {
	orig := dataDirFlag
	defer func() { dataDirFlag = orig }()

	config.SetIdentity(config.DefaultIdentity())
	config.SetConfigFile("")
	dir := t.TempDir()
	dataDirFlag = dir

	cfg, err := loadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestRootCommandTree(t *testing.T) {
	want := []string{"serve", "get", "queue", "history", "resolve", "engine", "doctor", "version"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}

	for _, path := range [][]string{
		{"queue", "add"}, {"queue", "list"},
		{"history", "list"}, {"history", "remove"}, {"history", "clear"},
		{"engine", "path"}, {"engine", "extract"},
	} {
		c, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], c.Name())
	}
}
