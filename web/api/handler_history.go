package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/afumu/barlens/store/types"
	"github.com/afumu/barlens/web/transport"
	"github.com/gin-gonic/gin"
)

type snapshotQuery struct {
	transport.PaginationQuery
	SessionID string `form:"session_id"`
	Since     int64  `form:"since"`
}

func (q snapshotQuery) toTypes() types.SnapshotQuery {
	out := types.SnapshotQuery{SessionID: q.SessionID, Limit: q.Limit, Offset: q.Offset}
	if q.Since > 0 {
		out.Since = time.UnixMilli(q.Since)
	}
	return out
}

func (a *API) historyEnabled(c *gin.Context) bool {
	if a.Store == nil {
		transport.NotFound(c, "history is disabled")
		return false
	}
	return true
}

func (a *API) GetSnapshots(c *gin.Context) {
	if !a.historyEnabled(c) {
		return
	}
	var q snapshotQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		transport.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	rows, err := a.Store.GetSnapshots(c.Request.Context(), q.toTypes())
	if err != nil {
		transport.InternalServerError(c, err.Error())
		return
	}
	transport.SendSuccess(c, rows)
}

func (a *API) GetSessions(c *gin.Context) {
	if !a.historyEnabled(c) {
		return
	}
	var q transport.PaginationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		transport.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	sessions, err := a.Store.GetSessions(c.Request.Context(), types.SessionQuery{Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		transport.InternalServerError(c, err.Error())
		return
	}
	transport.SendSuccess(c, sessions)
}

func (a *API) GetTransitions(c *gin.Context) {
	if !a.historyEnabled(c) {
		return
	}
	var q transport.PaginationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		transport.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	trs, err := a.Store.GetTransitions(c.Request.Context(), types.TransitionQuery{Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		transport.InternalServerError(c, err.Error())
		return
	}
	transport.SendSuccess(c, trs)
}

// ExportSnapshots sends the matching readouts as an xlsx or csv file.
func (a *API) ExportSnapshots(c *gin.Context) {
	if !a.historyEnabled(c) {
		return
	}
	var q snapshotQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		transport.BadRequest(c, "invalid query: "+err.Error())
		return
	}

	var (
		data        []byte
		err         error
		ext         string
		contentType string
	)
	switch format := c.DefaultQuery("format", "xlsx"); format {
	case "xlsx":
		data, err = a.Export.SnapshotsXLSX(c.Request.Context(), q.toTypes())
		ext, contentType = "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "csv":
		data, err = a.Export.SnapshotsCSV(c.Request.Context(), q.toTypes())
		ext, contentType = "csv", "text/csv; charset=utf-8"
	default:
		transport.BadRequest(c, "unsupported format: "+format)
		return
	}
	if err != nil {
		transport.InternalServerError(c, fmt.Sprintf("export failed: %v", err))
		return
	}

	fileName := fmt.Sprintf("snapshots_%s.%s", time.Now().Format("20060102_150405"), ext)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", fileName))
	c.Data(http.StatusOK, contentType, data)
}
