package models

import (
	"fmt"
	"time"
)

// PixelFormat describes one output sample layout a frame source can deliver.
type PixelFormat struct {
	Name          string `json:"name"`
	DType         string `json:"dtype"`
	BytesPerPixel int    `json:"bytes_per_pixel"`
}

var (
	PixelMono16 = PixelFormat{Name: "Mono16", DType: "uint16", BytesPerPixel: 2}
	PixelMono12 = PixelFormat{Name: "Mono12", DType: "uint16", BytesPerPixel: 2}
	PixelMono8  = PixelFormat{Name: "Mono8", DType: "uint8", BytesPerPixel: 1}
)

// PixelPreference is the negotiation order, first supported wins.
var PixelPreference = []PixelFormat{PixelMono16, PixelMono12, PixelMono8}

// NegotiatePixelFormat picks the first entry of PixelPreference present in supported.
func NegotiatePixelFormat(supported []PixelFormat) (PixelFormat, error) {
	for _, want := range PixelPreference {
		for _, have := range supported {
			if have.Name == want.Name {
				return want, nil
			}
		}
	}
	return PixelFormat{}, fmt.Errorf("no supported mono pixel format among %d offered", len(supported))
}

// Geometry is the frame size in pixels.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FrameSize is the exact byte size of one frame in the given format.
func (g Geometry) FrameSize(f PixelFormat) int {
	return g.Width * g.Height * f.BytesPerPixel
}

// Frame is one capture result. It is only valid until the next NextFrame call.
type Frame struct {
	Data      []byte
	Timestamp time.Duration // device clock
	Succeeded bool
}

// FrameEvent is what the acquisition loop reports per published frame.
type FrameEvent struct {
	GrabberID string    `json:"grabber_id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp int64     `json:"timestamp_ns"`
	FPS       float64   `json:"fps"`
	Notified  int       `json:"notified"`
	Dropped   int       `json:"dropped"`
	At        time.Time `json:"at"`
}
