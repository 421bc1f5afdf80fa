package api

import (
	"io"

	"github.com/afumu/barlens/internal/snapshot"
	"github.com/afumu/barlens/web/transport"
	"github.com/gin-gonic/gin"
)

// GetSnapshot returns the latest readout.
func (a *API) GetSnapshot(c *gin.Context) {
	rows, seq := a.Board.Rows()
	transport.SendSuccess(c, gin.H{
		"seq":  seq,
		"rows": rows,
	})
}

// StreamSnapshots pushes every later readout as a server-sent event
// until the client goes away.
func (a *API) StreamSnapshots(c *gin.Context) {
	ch, cancel := a.Board.Subscribe()
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case rows, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", rowsPayload(rows))
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func rowsPayload(rows snapshot.Rows) []snapshot.Row {
	return rows[:]
}
