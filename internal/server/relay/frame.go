package relay

import "encoding/json"

// Control frame types exchanged over a stream connection. Binary chunks
// carry no envelope at all; they are relayed as-is.
const (
	FrameMeta  = "meta"
	FrameEnd   = "end"
	FrameError = "error"
)

// ControlFrame is the JSON envelope of non-binary stream messages.
//
//	meta{fileName, fileSize, mimeType}  sent once by the sender at stream start
//	end{}                               sent once by the sender at stream end
//	error{message}                      sent by either side, or synthesized by the hub
type ControlFrame struct {
	Type     string  `json:"type"`
	FileName string  `json:"fileName,omitempty"`
	FileSize int64   `json:"fileSize,omitempty"`
	MimeType *string `json:"mimeType,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// ParseControl decodes a control frame and reports whether it is well formed.
// Unknown types count as malformed; the hub silently drops them.
func ParseControl(data []byte) (*ControlFrame, bool) {
	var frame ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, false
	}
	switch frame.Type {
	case FrameMeta, FrameEnd, FrameError:
		return &frame, true
	default:
		return nil, false
	}
}

// ErrorFrame renders an error control frame for direct delivery to one
// connection.
func ErrorFrame(message string) []byte {
	data, _ := json.Marshal(ControlFrame{Type: FrameError, Message: message})
	return data
}
