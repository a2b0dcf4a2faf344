package app

import "encoding/json"

// Frame kinds as they appear on the wire.
const (
	FrameMessage = "message"
	FrameEdit    = "edit"
	FrameStatus  = "status"
	FrameError   = "error"
)

// Button is one entry of an inline keyboard row.
type Button struct {
	Label  string `json:"text"`
	Action string `json:"callback_data"`
}

// ReplyMarkup carries the ordered button rows attached to a message.
type ReplyMarkup struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

// Frame is one inbound unit from the server stream.
//
// Seq is monotonic per connection epoch; 0 means "unsequenced, deliver
// immediately" (transient errors and the like). MessageID is the
// server-assigned stable identity, 0 when the entry has none.
type Frame struct {
	Type        string       `json:"type"`
	Seq         int64        `json:"seq,omitempty"`
	ChatID      int64        `json:"chat_id,omitempty"`
	MessageID   int64        `json:"message_id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Session     string       `json:"session,omitempty"`
	ReplyMarkup *ReplyMarkup `json:"reply_markup,omitempty"`

	// Status payload, only meaningful when Type == "status".
	Mode   string `json:"mode,omitempty"`
	Phase  string `json:"phase,omitempty"`
	Step   int    `json:"step,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

// ParseFrame decodes a raw wire payload. Callers drop frames that fail
// to parse; a malformed payload is noise, not a protocol violation.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Buttons returns the frame's inline keyboard rows, or nil.
func (f Frame) Buttons() [][]Button {
	if f.ReplyMarkup == nil {
		return nil
	}
	return f.ReplyMarkup.InlineKeyboard
}

// resendRequest asks the server to replay frames starting at FromSeq.
type resendRequest struct {
	Type    string `json:"type"`
	FromSeq int64  `json:"from_seq"`
}

func encodeResend(fromSeq int64) []byte {
	payload, _ := json.Marshal(resendRequest{Type: "resend", FromSeq: fromSeq})
	return payload
}
