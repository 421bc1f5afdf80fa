package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/afumu/barlens/store/types"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// SnapshotsCSV renders the matching readouts as CSV, oldest first.
func (s *Service) SnapshotsCSV(ctx context.Context, q types.SnapshotQuery) ([]byte, error) {
	rows, err := s.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	log.Info().Int("count", len(rows)).Str("session", q.SessionID).Msg("csv export")

	var buf bytes.Buffer
	// BOM so spreadsheet apps pick UTF-8
	buf.Write([]byte{0xEF, 0xBB, 0xBF})

	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(record(row)); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	log.Debug().Str("size", humanize.Bytes(uint64(buf.Len()))).Msg("csv export done")
	return buf.Bytes(), nil
}
