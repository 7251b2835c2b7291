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

package config

import (
	"maps"
	"net/url"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

// CredentialEntry holds the login used for one broker URL or host:port.
type CredentialEntry struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// equivalent MQTT schemes share credentials
var canonicalSchemes = map[string]string{
	"tcp":  "mqtt",
	"ssl":  "mqtts",
	"tls":  "mqtts",
	"ws":   "mqtt",
	"wss":  "mqtts",
	"mqtt": "mqtt",
}

// LoadAuthFromData reads auth.toml. Entries may sit at the top level
// (["mqtt://broker:1883"]) or under a creds table ([creds."broker:1883"]);
// both are merged, with the creds table winning.
func LoadAuthFromData(data []byte) map[string]CredentialEntry {
	result := make(map[string]CredentialEntry)

	var root map[string]CredentialEntry
	if err := toml.Unmarshal(data, &root); err == nil {
		for k, v := range root {
			if k != "creds" {
				result[k] = v
			}
		}
	}

	var wrapped struct {
		Creds map[string]CredentialEntry `toml:"creds"`
	}
	if err := toml.Unmarshal(data, &wrapped); err != nil {
		log.Warn().Err(err).Msg("failed to parse auth creds table")
	} else {
		maps.Copy(result, wrapped.Creds)
	}

	return result
}

func canonicalScheme(scheme string) string {
	s := strings.ToLower(scheme)
	if c, ok := canonicalSchemes[s]; ok {
		return c
	}
	return s
}

// LookupAuth finds the credentials for a broker URL. An entry with the
// exact scheme wins over one with an equivalent scheme, which wins over a
// bare host:port entry.
func LookupAuth(creds map[string]CredentialEntry, brokerURL string) *CredentialEntry {
	if len(creds) == 0 {
		return nil
	}

	u, err := url.Parse(brokerURL)
	if err != nil || u.Host == "" {
		log.Warn().Msgf("invalid broker url for auth lookup: %s", brokerURL)
		return nil
	}

	var equivalent, bare *CredentialEntry
	for k, v := range creds {
		if !strings.Contains(k, "://") {
			if bare == nil && strings.EqualFold(k, u.Host) {
				bare = &v
			}
			continue
		}
		entryURL, err := url.Parse(k)
		if err != nil {
			log.Error().Msgf("invalid auth config url: %s", k)
			continue
		}
		if !strings.EqualFold(entryURL.Host, u.Host) {
			continue
		}
		if strings.EqualFold(entryURL.Scheme, u.Scheme) {
			return &v
		}
		if equivalent == nil && canonicalScheme(entryURL.Scheme) == canonicalScheme(u.Scheme) {
			equivalent = &v
		}
	}

	if equivalent != nil {
		return equivalent
	}
	return bare
}
