package stream

import "time"

// FrameMessage is a preview frame pushed to websocket clients
type FrameMessage struct {
	Type        string    `json:"type"` // "frame"
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	FrameWidth  int       `json:"frame_width"`
	FrameHeight int       `json:"frame_height"`
	Frame       string    `json:"frame"` // Base64 encoded JPEG frame
}

// NewFrameMessage creates a frame message stamped with the current time
func NewFrameMessage(seq uint64, frameWidth, frameHeight int, frameBase64 string) *FrameMessage {
	return &FrameMessage{
		Type:        "frame",
		Seq:         seq,
		Timestamp:   time.Now(),
		FrameWidth:  frameWidth,
		FrameHeight: frameHeight,
		Frame:       frameBase64,
	}
}

// ControlMessage is sent by websocket clients. "stop" ends the detection run.
type ControlMessage struct {
	Type string `json:"type"`
}

// ControlStop asks the detector to stop, like pressing q in the window
const ControlStop = "stop"
