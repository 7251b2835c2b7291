// Zaparoo Link
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Link.
//
// Zaparoo Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Link.  If not, see <http://www.gnu.org/licenses/>.

package helpers

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirectories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setupDirs bool
	}{
		{name: "creates both directories", setupDirs: false},
		{name: "works when directories already exist", setupDirs: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			configDir := filepath.Join(root, "config", "nested")
			logDir := filepath.Join(root, "logs", "nested")
			if tt.setupDirs {
				require.NoError(t, os.MkdirAll(configDir, 0o750))
				require.NoError(t, os.MkdirAll(logDir, 0o750))
			}

			require.NoError(t, EnsureDirectories(configDir, logDir))

			for _, dir := range []string{configDir, logDir} {
				info, err := os.Stat(dir)
				require.NoError(t, err)
				assert.True(t, info.IsDir())
				if runtime.GOOS != "windows" {
					assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
				}
			}
		})
	}
}

func TestEnsureDirectoriesErrorHandling(t *testing.T) {
	t.Parallel()

	err := EnsureDirectories("/proc/invalid\x00path", t.TempDir())
	require.ErrorContains(t, err, "failed to create config directory")

	err = EnsureDirectories(t.TempDir(), "/proc/invalid\x00path")
	require.ErrorContains(t, err, "failed to create log directory")
}

//nolint:paralleltest // modifies the global logger
func TestInitLogging(t *testing.T) {
	orig := log.Logger
	origLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = orig
		zerolog.SetGlobalLevel(origLevel)
	})

	var buf bytes.Buffer
	logDir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, InitLogging(logDir, []io.Writer{&buf}))

	SetDebugLogging(false)
	log.Debug().Msg("hidden")
	log.Info().Str("mode", "tcp").Msg("link state changed")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"mode":"tcp"`)

	SetDebugLogging(true)
	log.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "visible")

	_, err := os.Stat(filepath.Join(logDir, LogFile))
	require.NoError(t, err, "log file is created on first write")
}
