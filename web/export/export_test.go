package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/afumu/barlens/internal/model"
	"github.com/afumu/barlens/store"
	"github.com/afumu/barlens/store/types"
	"github.com/xuri/excelize/v2"
)

func seeded(t *testing.T) *Service {
	t.Helper()
	s, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 2; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		err := s.RecordSnapshot(context.Background(), []model.SnapshotRow{
			{SessionID: "s1", TakenAt: at, Slot: 0, Caption: "alice - 1/6", Value: "K Q"},
			{SessionID: "s1", TakenAt: at, Slot: 4, Caption: "Last Round", Value: "A"},
		})
		if err != nil {
			t.Fatalf("RecordSnapshot: %v", err)
		}
	}
	return &Service{Store: s}
}

func TestSnapshotsCSV(t *testing.T) {
	svc := seeded(t)
	data, err := svc.SnapshotsCSV(context.Background(), types.SnapshotQuery{SessionID: "s1"})
	if err != nil {
		t.Fatalf("SnapshotsCSV: %v", err)
	}
	if !bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		t.Error("missing BOM")
	}
	records, err := csv.NewReader(bytes.NewReader(data[3:])).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("got %d records, want header + 4", len(records))
	}
	if records[0][3] != "Caption" {
		t.Errorf("header = %v", records[0])
	}
	// oldest first, slots ascending within a readout
	if records[1][2] != "0" || records[2][2] != "4" || records[1][0] >= records[3][0] {
		t.Errorf("ordering: %v", records[1:])
	}
}

func TestSnapshotsXLSX(t *testing.T) {
	svc := seeded(t)
	data, err := svc.SnapshotsXLSX(context.Background(), types.SnapshotQuery{})
	if err != nil {
		t.Fatalf("SnapshotsXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want 5", len(rows))
	}
	if rows[1][3] != "alice - 1/6" || rows[2][4] != "A" {
		t.Errorf("rows = %v", rows)
	}
}
