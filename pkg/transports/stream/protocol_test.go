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
	"testing"

	"github.com/ZaparooProject/zaparoo-link/pkg/link/models"
	"github.com/stretchr/testify/assert"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want parsedLine
		name string
		line string
	}{
		{
			name: "telemetry",
			line: "TLM\talt=12.5\tmode=GUIDED\tarmed=true\r",
			want: parsedLine{kind: lineTelemetry, sample: models.TelemetrySample{
				"alt": 12.5, "mode": "GUIDED", "armed": "true",
			}},
		},
		{
			name: "telemetry skips malformed fields",
			line: "TLM\t=1\tnoequals\tbattery=87",
			want: parsedLine{kind: lineTelemetry, sample: models.TelemetrySample{"battery": 87.0}},
		},
		{
			name: "telemetry keeps non-finite numbers as text",
			line: "TLM\tclimb=NaN",
			want: parsedLine{kind: lineTelemetry, sample: models.TelemetrySample{"climb": "NaN"}},
		},
		{
			name: "empty telemetry",
			line: "TLM\t",
			want: parsedLine{kind: lineTelemetry, sample: models.TelemetrySample{}},
		},
		{
			name: "ack",
			line: "ACK\tTAKEOFF accepted ",
			want: parsedLine{kind: lineAck, text: "TAKEOFF accepted"},
		},
		{
			name: "other data",
			line: "STATUSTEXT PreArm: GPS not healthy",
			want: parsedLine{kind: lineData, text: "STATUSTEXT PreArm: GPS not healthy"},
		},
		{
			name: "prefix without tab is data",
			line: "TLM",
			want: parsedLine{kind: lineData, text: "TLM"},
		},
		{name: "blank", line: "  \r", want: parsedLine{kind: lineEmpty}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseLine(tt.line))
		})
	}
}

func TestFormatCommand(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []byte("CMD\tRTL\n"), formatCommand("RTL"))
}
