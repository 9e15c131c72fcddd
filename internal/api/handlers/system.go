package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"frame-grabber-go/internal/models"
)

// SystemHandler reports on the grabber process itself.
type SystemHandler struct {
	grabberID string
	protocol  string
	startedAt time.Time
}

// NewSystemHandler takes the command protocol endpoint as network://address.
func NewSystemHandler(grabberID, protocol string) *SystemHandler {
	return &SystemHandler{
		grabberID: grabberID,
		protocol:  protocol,
		startedAt: time.Now(),
	}
}

// @Summary Get system stats
// @Description Memory, garbage collector and goroutine counters of the grabber process
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/stats [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"grabber_id":     h.grabberID,
			"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
			"heap_alloc_mb":  m.HeapAlloc / 1024 / 1024,
			"heap_objects":   m.HeapObjects,
			"gc_cycles":      m.NumGC,
			"goroutines":     runtime.NumGoroutine(),
			"cpu_cores":      runtime.NumCPU(),
			"go_version":     runtime.Version(),
		},
		"timestamp": time.Now().Unix(),
	})
}

// @Summary Get protocol info
// @Description Command protocol endpoint and the verbs it accepts, for wiring clients by hand
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/protocol [get]
func (h *SystemHandler) GetProtocol(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"endpoint": h.protocol,
		"verbs": []string{
			models.VerbOpen, models.VerbRelease, models.VerbStream, models.VerbStop,
			models.VerbActiveFile, models.VerbFrameNotify, models.VerbFrameNoNotify, models.VerbClose,
		},
		"notification": models.NotifyPrefix + "<timestamp_ns>",
	})
}
