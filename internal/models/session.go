package models

import (
	"fmt"
	"time"
)

// SessionSnapshot is a point-in-time copy of the session for readers outside the dispatcher.
type SessionSnapshot struct {
	GrabberID   string      `json:"grabber_id"`
	DeviceOpen  bool        `json:"device_open"`
	Streaming   bool        `json:"streaming"`
	Serial      string      `json:"serial,omitempty"`
	Geometry    Geometry    `json:"geometry"`
	PixelFormat PixelFormat `json:"pixel_format"`
	BufferPath  string      `json:"buffer_path,omitempty"`
	FrameRateHz float64     `json:"frame_rate_hz"`
	Frames      uint64      `json:"frames"`
	Subscribers int         `json:"subscribers"`
	LastError   string      `json:"last_error,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// BufferDescriptor renders "<path>:(<H>,<W>):<dtype>".
func BufferDescriptor(path string, g Geometry, f PixelFormat) string {
	return fmt.Sprintf("%s:(%d,%d):%s", path, g.Height, g.Width, f.DType)
}

// SessionEvent is published after every applied command.
type SessionEvent struct {
	Verb    string          `json:"verb"`
	Client  string          `json:"client"`
	Error   string          `json:"error,omitempty"`
	Session SessionSnapshot `json:"session"`
}
