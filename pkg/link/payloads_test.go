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

package link

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecodeHex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{name: "spaced", input: "FE 09 00", want: []byte{0xfe, 0x09, 0x00}},
		{name: "compact lower", input: "fe0900", want: []byte{0xfe, 0x09, 0x00}},
		{name: "tabs and newlines", input: "de\tad\nbe ef", want: []byte{0xde, 0xad, 0xbe, 0xef}},
		{name: "empty", input: "", wantErr: true},
		{name: "only whitespace", input: " \t ", wantErr: true},
		{name: "odd length", input: "FE0", wantErr: true},
		{name: "split nibble is still odd", input: "F E 0", wantErr: true},
		{name: "invalid digit", input: "GG", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeHex(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeHex_IgnoresWhitespaceProperty(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "data")
		encoded := hex.EncodeToString(data)
		if rapid.Bool().Draw(t, "upper") {
			encoded = strings.ToUpper(encoded)
		}

		var b strings.Builder
		for _, r := range encoded {
			b.WriteRune(r)
			if rapid.IntRange(0, 3).Draw(t, "gap") == 0 {
				b.WriteString(rapid.SampledFrom([]string{" ", "\t", "\n"}).Draw(t, "ws"))
			}
		}

		got, err := DecodeHex(b.String())
		if err != nil {
			t.Fatalf("decode %q: %v", b.String(), err)
		}
		if !assert.ObjectsAreEqual(data, got) {
			t.Fatalf("decode %q: got %x, want %x", b.String(), got, data)
		}
	})
}

func TestTextBytes(t *testing.T) {
	t.Parallel()

	got, err := TextBytes("héllo")
	require.NoError(t, err)
	assert.Equal(t, []byte("héllo"), got)

	_, err = TextBytes("")
	require.ErrorIs(t, err, ErrMalformedInput)

	_, err = TextBytes(string([]byte{0xff, 0xfe}))
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestX25CheckValue(t *testing.T) {
	t.Parallel()

	crc := uint16(0xFFFF)
	for _, b := range []byte("123456789") {
		crc = x25Accumulate(b, crc)
	}
	assert.Equal(t, uint16(0x6F91), crc)
}

func TestHeartbeatFrame(t *testing.T) {
	t.Parallel()

	want := []byte{
		0xFE, 0x09, 0x00, 0xFF, 0xBE, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x06, 0x08, 0x00, 0x04, 0x03,
		0x49, 0x21,
	}
	assert.Equal(t, want, HeartbeatFrame(0, 255, 190))

	next := HeartbeatFrame(1, 255, 190)
	require.Len(t, next, 17)
	assert.Equal(t, byte(1), next[2])
	assert.Equal(t, []byte{0xA3, 0x5F}, next[15:])
}
