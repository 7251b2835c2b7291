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
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	AppName = "zaparoo-link"
	// UserDir next to the executable turns the install portable: config
	// and logs live inside it.
	UserDir = "user"
	// AppEnv overrides the executable path used to find UserDir.
	AppEnv = "ZAPAROO_LINK_APP"
)

var (
	userDirOnce   sync.Once
	userDirCache  string
	userDirExists bool
)

// HasUserDir reports whether a portable user directory sits next to the
// executable. The result is cached after the first call.
func HasUserDir() (string, bool) {
	userDirOnce.Do(func() {
		exe := os.Getenv(AppEnv)
		if exe == "" {
			var err error
			exe, err = os.Executable()
			if err != nil {
				return
			}
		}
		userDirCache, userDirExists = userDirFor(exe)
	})
	return userDirCache, userDirExists
}

func userDirFor(exe string) (string, bool) {
	dir := filepath.Join(filepath.Dir(exe), UserDir)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

func ConfigDir() string {
	if v, ok := HasUserDir(); ok {
		return v
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}

func LogDir() string {
	if v, ok := HasUserDir(); ok {
		return filepath.Join(v, "logs")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, AppName, "logs")
	}
	return filepath.Join(os.TempDir(), AppName, "logs")
}

// IsServiceRunning checks whether something already answers on the API
// address. An address without a host is checked on loopback.
func IsServiceRunning(listen string) bool {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
