// Package export renders recorded readouts as downloadable files.
package export

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/afumu/barlens/internal/model"
	"github.com/afumu/barlens/store"
	"github.com/afumu/barlens/store/types"
)

// Service pulls history from the store for export.
type Service struct {
	Store store.Store
}

var header = []string{"Time", "Session", "Slot", "Caption", "Value"}

// collect pages through every matching snapshot row, oldest first.
func (s *Service) collect(ctx context.Context, q types.SnapshotQuery) ([]*model.SnapshotRow, error) {
	q.Limit = types.MaxLimit
	q.Offset = 0
	var all []*model.SnapshotRow
	for {
		page, err := s.Store.GetSnapshots(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < types.MaxLimit {
			break
		}
		q.Offset += len(page)
	}
	slices.SortStableFunc(all, func(a, b *model.SnapshotRow) int {
		if c := a.TakenAt.Compare(b.TakenAt); c != 0 {
			return c
		}
		return a.Slot - b.Slot
	})
	return all, nil
}

func record(row *model.SnapshotRow) []string {
	return []string{
		row.TakenAt.Format(time.DateTime + ".000"),
		row.SessionID,
		strconv.Itoa(row.Slot),
		row.Caption,
		row.Value,
	}
}
