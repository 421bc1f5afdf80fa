package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/afumu/barlens/store/types"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Snapshots"

// SnapshotsXLSX renders the matching readouts as a single-sheet workbook.
func (s *Service) SnapshotsXLSX(ctx context.Context, q types.SnapshotQuery) ([]byte, error) {
	rows, err := s.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	log.Info().Int("count", len(rows)).Str("session", q.SessionID).Msg("xlsx export")

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}

	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, h)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	f.SetCellStyle(sheetName, "A1", "E1", headerStyle)

	f.SetColWidth(sheetName, "A", "A", 24)
	f.SetColWidth(sheetName, "B", "B", 38)
	f.SetColWidth(sheetName, "C", "C", 6)
	f.SetColWidth(sheetName, "D", "D", 24)
	f.SetColWidth(sheetName, "E", "E", 40)

	for i, row := range rows {
		for j, val := range record(row) {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			f.SetCellValue(sheetName, cell, val)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	log.Debug().Str("size", humanize.Bytes(uint64(buf.Len()))).Msg("xlsx export done")
	return buf.Bytes(), nil
}
