package domain

import (
	"encoding/binary"
)

// Archived blobs (message logs and entity snapshots) use a versioned binary
// container: a 2-byte magic, one version byte, then records framed as
// uvarint length + raw bytes. Decoding never repairs or resets a damaged
// blob; corruption always surfaces as an error.

const archiveVersion = 1

var archiveMagic = []byte{'S', 'R'}

func EmptyArchive() []byte {
	return EncodeArchive(nil)
}

func EncodeArchive(records [][]byte) []byte {
	size := len(archiveMagic) + 1
	for _, r := range records {
		size += binary.MaxVarintLen64 + len(r)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, archiveMagic...)
	buf = append(buf, archiveVersion)
	var frame [binary.MaxVarintLen64]byte
	for _, r := range records {
		n := binary.PutUvarint(frame[:], uint64(len(r)))
		buf = append(buf, frame[:n]...)
		buf = append(buf, r...)
	}
	return buf
}

func DecodeArchive(blob []byte) ([][]byte, error) {
	if len(blob) < len(archiveMagic)+1 {
		return nil, NewError(CodeArchiveCorrupt, "archive blob too short")
	}
	if blob[0] != archiveMagic[0] || blob[1] != archiveMagic[1] {
		return nil, NewError(CodeArchiveCorrupt, "archive blob has no magic header")
	}
	if blob[2] != archiveVersion {
		return nil, Errorf(CodeArchiveCorrupt, "unsupported archive version %d", blob[2])
	}
	rest := blob[len(archiveMagic)+1:]
	var records [][]byte
	for len(rest) > 0 {
		length, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, NewError(CodeArchiveCorrupt, "archive record has invalid length prefix")
		}
		rest = rest[n:]
		if uint64(len(rest)) < length {
			return nil, NewError(CodeArchiveCorrupt, "archive record truncated")
		}
		record := make([]byte, length)
		copy(record, rest[:length])
		records = append(records, record)
		rest = rest[length:]
	}
	return records, nil
}

// AppendArchive validates the existing blob and re-encodes it with one more
// record appended.
func AppendArchive(blob []byte, record []byte) ([]byte, error) {
	records, err := DecodeArchive(blob)
	if err != nil {
		return nil, err
	}
	return EncodeArchive(append(records, record)), nil
}
