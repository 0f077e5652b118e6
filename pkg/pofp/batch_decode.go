package pofp

import (
	"encoding/binary"
	"fmt"
	"io"
)

// decodeBatchedLooseObjects reads a framed stream of (sha, body) records
// from r, invoking onObject once per record with the sha and a reader
// bounded to exactly that object's body. Each record is:
//
//	uint8  sha length
//	[]byte sha (ASCII hex)
//	uint32 body length (big-endian)
//	[]byte body
//
// The stream ends at io.EOF read where a new record's length prefix
// would otherwise begin.
func decodeBatchedLooseObjects(r io.Reader, onObject func(sha string, body io.Reader) error) error {
	var shaLen [1]byte
	var bodyLen [4]byte

	for {
		if _, err := io.ReadFull(r, shaLen[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read sha length prefix: %w", err)
		}

		shaBytes := make([]byte, shaLen[0])
		if _, err := io.ReadFull(r, shaBytes); err != nil {
			return fmt.Errorf("failed to read sha: %w", err)
		}

		if _, err := io.ReadFull(r, bodyLen[:]); err != nil {
			return fmt.Errorf("failed to read body length prefix: %w", err)
		}
		n := binary.BigEndian.Uint32(bodyLen[:])
		limited := io.LimitReader(r, int64(n))

		if err := onObject(string(shaBytes), limited); err != nil {
			return err
		}
		if _, err := io.Copy(io.Discard, limited); err != nil {
			return fmt.Errorf("failed to drain unread object body: %w", err)
		}
	}
}
