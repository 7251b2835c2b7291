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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	mavlinkV1Start      = 0xFE
	heartbeatMessageID  = 0
	heartbeatPayloadLen = 9
	heartbeatCRCExtra   = 50

	mavTypeGCS           = 6
	mavAutopilotInvalid  = 8
	mavStateActive       = 4
	mavlinkProtocolMajor = 3
)

// DecodeHex decodes a whitespace-insensitive hex string such as "FE 09 00".
// The digits left after removing whitespace must form whole bytes.
func DecodeHex(s string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if compact == "" {
		return nil, fmt.Errorf("%w: empty hex payload", ErrMalformedInput)
	}
	if len(compact)%2 != 0 {
		return nil, fmt.Errorf("%w: hex payload has odd length %d", ErrMalformedInput, len(compact))
	}
	data, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return data, nil
}

// TextBytes returns the UTF-8 encoding of a text payload.
func TextBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedInput)
	}
	return []byte(s), nil
}

// HeartbeatFrame builds a MAVLink v1 HEARTBEAT frame announcing a ground
// control station:
//
//	[0xFE, len, seq, sysid, compid, msgid, payload[9]..., crcLow, crcHigh]
func HeartbeatFrame(seq, systemID, componentID byte) []byte {
	frame := make([]byte, 0, 6+heartbeatPayloadLen+2)
	frame = append(frame,
		mavlinkV1Start,
		heartbeatPayloadLen,
		seq,
		systemID,
		componentID,
		heartbeatMessageID,
	)

	payload := make([]byte, heartbeatPayloadLen)
	binary.LittleEndian.PutUint32(payload[0:4], 0) // custom_mode
	payload[4] = mavTypeGCS
	payload[5] = mavAutopilotInvalid
	payload[6] = 0 // base_mode
	payload[7] = mavStateActive
	payload[8] = mavlinkProtocolMajor
	frame = append(frame, payload...)

	crc := x25Checksum(frame[1:], heartbeatCRCExtra)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

// x25Checksum is the CRC-16/MCRF4XX used by MAVLink, seeded with 0xFFFF and
// finished with the message's CRC extra byte.
func x25Checksum(data []byte, extra byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = x25Accumulate(b, crc)
	}
	return x25Accumulate(extra, crc)
}

func x25Accumulate(b byte, crc uint16) uint16 {
	tmp := b ^ byte(crc&0xFF)
	tmp ^= tmp << 4
	return (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}
