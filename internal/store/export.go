package store

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
	"github.com/mesh-intelligence/rigor/pkg/types"
)

// Export writes every record, flattened, as one JSON object per line in
// store order. Non-finite floats are written as strings.
func (s *Store) Export(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	if err := s.ensureLoadedLocked(context.Background()); err != nil {
		return err
	}
	return WriteRecords(w, s.allLocked())
}

// WriteRecords writes recs flattened, one JSON object per line, in the same
// encoding Export uses.
func WriteRecords(w io.Writer, recs []*lineage.Record) error {
	bw := bufio.NewWriter(w)
	for seq, rec := range recs {
		line, err := marshalFields(rec.Flatten())
		if err != nil {
			return fmt.Errorf("encoding record %d: %w", seq, err)
		}
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("writing record %d: %w", seq, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing record %d: %w", seq, err)
		}
	}
	return bw.Flush()
}
