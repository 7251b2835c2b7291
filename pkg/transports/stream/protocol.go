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

package stream

import (
	"math"
	"strconv"
	"strings"

	"github.com/ZaparooProject/zaparoo-link/pkg/link/models"
)

const (
	prefixTelemetry = "TLM\t"
	prefixAck       = "ACK\t"
	prefixCommand   = "CMD\t"
)

type lineKind int

const (
	lineEmpty lineKind = iota
	lineTelemetry
	lineAck
	lineData
)

type parsedLine struct {
	sample models.TelemetrySample
	text   string
	kind   lineKind
}

// parseLine classifies one line received from the vehicle. Telemetry lines
// carry tab separated key=value pairs; numeric values become float64.
func parseLine(line string) parsedLine {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return parsedLine{kind: lineEmpty}
	}

	switch {
	case strings.HasPrefix(line, prefixTelemetry):
		sample := models.TelemetrySample{}
		for _, field := range strings.Split(line[len(prefixTelemetry):], "\t") {
			key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
			if !ok || key == "" {
				continue
			}
			if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				sample[key] = f
			} else {
				sample[key] = value
			}
		}
		return parsedLine{kind: lineTelemetry, sample: sample}
	case strings.HasPrefix(line, prefixAck):
		return parsedLine{kind: lineAck, text: strings.TrimSpace(line[len(prefixAck):])}
	default:
		return parsedLine{kind: lineData, text: line}
	}
}

func formatCommand(name string) []byte {
	return []byte(prefixCommand + name + "\n")
}
