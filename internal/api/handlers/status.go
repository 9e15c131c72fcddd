package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"frame-grabber-go/internal/logging"
	"frame-grabber-go/internal/models"
)

// SessionReader is satisfied by *session.Session.
type SessionReader interface {
	Snapshot() models.SessionSnapshot
}

// PipelineStats reports the control-plane counters shown next to the session.
type PipelineStats interface {
	QueueDepth() int
	QueueCapacity() int
	QueueRetries() uint64
	Connections() int
	CommandsProcessed() uint64
}

type StatusHandler struct {
	session SessionReader
	stats   PipelineStats
}

func NewStatusHandler(session SessionReader, stats PipelineStats) *StatusHandler {
	return &StatusHandler{session: session, stats: stats}
}

type QueueStatus struct {
	Depth    int    `json:"depth" example:"0"`
	Capacity int    `json:"capacity" example:"64"`
	Retries  uint64 `json:"retries" example:"0"`
}

type StatusResponse struct {
	Session           models.SessionSnapshot `json:"session"`
	Queue             QueueStatus            `json:"queue"`
	Connections       int                    `json:"connections" example:"2"`
	CommandsProcessed uint64                 `json:"commands_processed" example:"12"`
}

// @Summary Session status
// @Description Device, buffer and acquisition state plus command queue counters
// @Tags status
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /status [get]
func (h *StatusHandler) GetStatus(c *gin.Context) {
	resp := StatusResponse{Session: h.session.Snapshot()}
	if h.stats != nil {
		resp.Queue = QueueStatus{
			Depth:    h.stats.QueueDepth(),
			Capacity: h.stats.QueueCapacity(),
			Retries:  h.stats.QueueRetries(),
		}
		resp.Connections = h.stats.Connections()
		resp.CommandsProcessed = h.stats.CommandsProcessed()
	}

	reqLog := logging.Request(c)
	reqLog.Debug().
		Bool("device_open", resp.Session.DeviceOpen).
		Bool("streaming", resp.Session.Streaming).
		Msg("Status requested")

	c.JSON(http.StatusOK, resp)
}
