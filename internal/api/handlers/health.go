package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	GrabberID string
	Version   string
	StartedAt time.Time
}

func NewHealthHandler(grabberID, version string) *HealthHandler {
	return &HealthHandler{GrabberID: grabberID, Version: version, StartedAt: time.Now()}
}

type HealthResponse struct {
	Status    string `json:"status" example:"healthy"`
	GrabberID string `json:"grabber_id" example:"grabber-1"`
	Uptime    string `json:"uptime" example:"1h2m3s"`
}

type GrabberInfoResponse struct {
	GrabberID string            `json:"grabber_id" example:"grabber-1"`
	Status    string            `json:"status" example:"running"`
	Version   string            `json:"version" example:"1.0.0"`
	Protocol  []string          `json:"protocol"`
	Endpoints map[string]string `json:"endpoints"`
}

// @Summary Health check
// @Description Check if the grabber process is up and serving
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		GrabberID: h.GrabberID,
		Uptime:    time.Since(h.StartedAt).Truncate(time.Second).String(),
	})
}

// @Summary Grabber information
// @Description Basic grabber information and the protocol verbs it understands
// @Tags health
// @Produce json
// @Success 200 {object} GrabberInfoResponse
// @Router / [get]
func (h *HealthHandler) GrabberInfo(c *gin.Context) {
	c.JSON(http.StatusOK, GrabberInfoResponse{
		GrabberID: h.GrabberID,
		Status:    "running",
		Version:   h.Version,
		Protocol:  []string{"open", "release", "stream", "stop", "activefile", "framedonotify", "framenonotify", "close"},
		Endpoints: map[string]string{
			"health": "/health",
			"status": "/status",
			"frames": "/ws/frames",
			"system": "/system/stats",
			"docs":   "/docs/index.html",
		},
	})
}
