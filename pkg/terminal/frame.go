// Package terminal bridges a websocket client to an interactive remote
// shell. One session owns one shell channel; the underlying transport is
// shared and must outlive the session.
package terminal

import "encoding/json"

// Frame is the JSON message exchanged with the terminal client.
//
// Client to server: input, resize, close.
// Server to client: connected, output, error.
type Frame struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Rows    int    `json:"rows,omitempty"`
	Cols    int    `json:"cols,omitempty"`
}

const (
	FrameInput  = "input"
	FrameResize = "resize"
	FrameClose  = "close"

	FrameConnected = "connected"
	FrameOutput    = "output"
	FrameError     = "error"
)

func connectedFrame(message string) *Frame {
	return &Frame{Type: FrameConnected, Message: message}
}

func outputFrame(data []byte) *Frame {
	return &Frame{Type: FrameOutput, Data: string(data)}
}

func errorFrame(message string) *Frame {
	return &Frame{Type: FrameError, Message: message}
}

// ParseFrame decodes a client frame.
func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
