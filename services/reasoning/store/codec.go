// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
)

// -----------------------------------------------------------------------------
// Keys
//
// Key layout in BadgerDB:
//
//	sess:{session_id}                      - session record, history stripped
//	hit:{session_id}:{h_index:08d}         - one H-iteration, cycles stripped
//	lcy:{session_id}:{h_index:08d}:{c:08d} - one L-cycle
//	meta:schema                            - store schema version
//
// The zero-padded indices make lexicographic key order equal numeric order,
// so prefix scans yield records in append order.
// -----------------------------------------------------------------------------

const metaSchemaKey = "meta:schema"

func sessionKey(id string) []byte {
	return []byte("sess:" + id)
}

func sessionKeyPrefix() []byte {
	return []byte("sess:")
}

func hitKey(id string, h int) []byte {
	return []byte(fmt.Sprintf("hit:%s:%08d", id, h))
}

func hitPrefix(id string) []byte {
	return []byte(fmt.Sprintf("hit:%s:", id))
}

func lcyKey(id string, h, c int) []byte {
	return []byte(fmt.Sprintf("lcy:%s:%08d:%08d", id, h, c))
}

func lcyPrefix(id string) []byte {
	return []byte(fmt.Sprintf("lcy:%s:", id))
}

func lcyIterPrefix(id string, h int) []byte {
	return []byte(fmt.Sprintf("lcy:%s:%08d:", id, h))
}

// keyCeil returns a key strictly greater than every key carrying the prefix,
// for reverse-iterator seeks. Index digits are ASCII, so a single 0xFF works.
func keyCeil(prefix []byte) []byte {
	out := make([]byte, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = 0xFF
	return out
}

// parseTrailingIndex extracts the zero-padded index that follows the prefix.
func parseTrailingIndex(key, prefix []byte) (int, bool) {
	if len(key) <= len(prefix) {
		return 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%08d", &idx); err != nil {
		return 0, false
	}
	return idx, true
}

// -----------------------------------------------------------------------------
// Value Codec
//
// Value format: [4-byte CRC32 (IEEE, big endian)][gob-encoded record].
// The checksum catches torn writes and on-disk corruption before gob gets
// a chance to misdecode them.
// -----------------------------------------------------------------------------

// encodeRecord gob-encodes v and prepends a CRC32 checksum.
func encodeRecord(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}

	crc := crc32.ChecksumIEEE(buf.Bytes())

	result := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(result[:4], crc)
	copy(result[4:], buf.Bytes())

	return result, nil
}

// decodeRecord validates the checksum and gob-decodes into v.
func decodeRecord(data []byte, v any) error {
	if len(data) < 5 { // 4-byte CRC + at least 1 byte of payload
		return fmt.Errorf("%w: entry too short", ErrCorrupted)
	}

	storedCRC := binary.BigEndian.Uint32(data[:4])
	gobData := data[4:]
	computedCRC := crc32.ChecksumIEEE(gobData)

	if storedCRC != computedCRC {
		return fmt.Errorf("%w: stored=%08x computed=%08x", ErrCorrupted, storedCRC, computedCRC)
	}

	dec := gob.NewDecoder(bytes.NewReader(gobData))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}
