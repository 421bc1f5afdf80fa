package api

import (
	"time"

	"github.com/afumu/barlens/web/transport"
	"github.com/gin-gonic/gin"
	"github.com/hako/durafmt"
)

var shortUnits, _ = durafmt.DefaultUnitsCoder.Decode("y:y,wk:wk,d:d,h:h,m:m,s:s,ms:ms,us:us")

// FormatUptime renders d as e.g. "2h 5m".
func FormatUptime(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return durafmt.Parse(d.Round(time.Second)).LimitFirstN(2).Format(shortUnits)
}

// GetStatus reports the worker state and attach details.
func (a *API) GetStatus(c *gin.Context) {
	st := a.Worker.Status()
	transport.SendSuccess(c, gin.H{
		"state":            st.State,
		"ticks_per_second": st.TicksPerSecond,
		"pid":              st.PID,
		"unity_base":       st.UnityBase,
		"manager":          st.Manager,
		"session_id":       st.SessionID,
		"sessions":         st.Sessions,
		"uptime":           FormatUptime(st.Uptime),
		"uptime_ms":        st.Uptime.Milliseconds(),
		"history":          a.Store != nil,
		"webhook":          a.Notifier.Enabled(),
	})
}

// GetOffsets returns the layout table the next session will use.
func (a *API) GetOffsets(c *gin.Context) {
	t := a.Offsets.Current()
	transport.SendSuccess(c, gin.H{
		"path":  a.Conf.OffsetsPath,
		"table": t,
	})
}
