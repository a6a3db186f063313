// Package sakoya implements the Sakoya wire dialect and its translation
// to and from OneBot v11 envelopes.
package sakoya

import (
	"encoding/json"
	"fmt"
)

// UserType classifies who a MessageReceive frame originated from.
type UserType string

const (
	UserGroup     UserType = "group"
	UserDirect    UserType = "direct"
	UserChannel   UserType = "channel"
	UserSubChan   UserType = "sub_channel"
)

// TargetType classifies who a MessageSend frame is addressed to. Only two
// values exist on the send side, unlike the four-way UserType on receive.
type TargetType string

const (
	TargetGroup  TargetType = "group"
	TargetDirect TargetType = "direct"
)

// Sender is the reduced sender descriptor Sakoya carries on MessageReceive,
// compared to OneBot's full sender object.
type Sender struct {
	Nickname string `json:"nickname,omitempty"`
	Card     string `json:"card,omitempty"`
}

// ImageKind discriminates the two shapes a Sakoya image segment's Data can
// take: a bare string (inline content reference) or a structured object
// naming an encoding.
type ImageKind int

const (
	ImageKindNone ImageKind = iota
	ImageKindBare
	ImageKindStructured
)

// ImageData is the dynamic payload of a Sakoya "image" message entry. It is
// a small sum type rather than `any` so an unexpected shape is detected and
// logged instead of silently coerced.
type ImageData struct {
	Kind ImageKind

	// Bare holds the string value when Kind == ImageKindBare: a
	// "base64://..." blob, an "http..." URL, or a bare filename.
	Bare string

	// Structured holds the {type, content} object when Kind ==
	// ImageKindStructured. Type is one of "b64", "url", "file".
	StructuredType    string
	StructuredContent string
}

func (d *ImageData) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = ImageData{Kind: ImageKindBare, Bare: s}
		return nil
	}
	var obj struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		*d = ImageData{Kind: ImageKindNone}
		return fmt.Errorf("sakoya: image data is neither a string nor a {type,content} object: %w", err)
	}
	*d = ImageData{Kind: ImageKindStructured, StructuredType: obj.Type, StructuredContent: obj.Content}
	return nil
}

func (d ImageData) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case ImageKindBare:
		return json.Marshal(d.Bare)
	case ImageKindStructured:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{Type: d.StructuredType, Content: d.StructuredContent})
	default:
		return json.Marshal("")
	}
}

// Message is a single Sakoya content entry. Data's shape depends on Type:
// "text" carries a bare string, "image" carries ImageData, other types are
// preserved as raw JSON so a translator can fall back to a text rendering.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TextValue decodes Data as a bare string, for Type == "text" or any other
// string-payload type (log_* types, etc).
func (m Message) TextValue() (string, bool) {
	var s string
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return "", false
	}
	return s, true
}

// ImageValue decodes Data as an ImageData, for Type == "image".
func (m Message) ImageValue() (ImageData, error) {
	var img ImageData
	err := img.UnmarshalJSON(m.Data)
	return img, err
}

// NewTextMessage builds a text-typed Sakoya message entry.
func NewTextMessage(text string) Message {
	return Message{Type: "text", Data: mustMarshalJSON(text)}
}

// NewImageMessage builds an image-typed Sakoya message entry carrying a
// structured {type,content} payload.
func NewImageMessage(encoding, content string) Message {
	img := ImageData{Kind: ImageKindStructured, StructuredType: encoding, StructuredContent: content}
	b, _ := img.MarshalJSON()
	return Message{Type: "image", Data: b}
}

func mustMarshalJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// MessageReceive is a frame delivered from the Sakoya side to the proxy:
// an inbound chat event.
type MessageReceive struct {
	BotID      string    `json:"bot_id"`
	BotSelfID  string    `json:"bot_self_id,omitempty"`
	MsgID      string    `json:"msg_id,omitempty"`
	UserType   UserType  `json:"user_type"`
	GroupID    string    `json:"group_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Sender     Sender    `json:"sender,omitempty"`
	UserPM     int       `json:"user_pm,omitempty"`
	Content    []Message `json:"content"`
}

// FixedUserPM is the permission level every MessageReceive frame carries;
// the dialect defines no lower level a proxy-relayed message could have.
const FixedUserPM = 3

// MessageSend is a frame delivered from the Sakoya side requesting an
// outbound send, which the proxy translates into a OneBot send_*_msg API
// call.
type MessageSend struct {
	BotID      string     `json:"bot_id"`
	BotSelfID  string     `json:"bot_self_id,omitempty"`
	MsgID      string     `json:"msg_id,omitempty"`
	TargetType TargetType `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Content    []Message  `json:"content,omitempty"`
}

// IsSakoyaPath reports whether an HTTP path follows the Sakoya connection
// convention "/ws/{bot_id}".
func IsSakoyaPath(path string) bool {
	_, ok := ExtractBotID(path)
	return ok
}

// ExtractBotID pulls {bot_id} out of a "/ws/{bot_id}" path.
func ExtractBotID(path string) (string, bool) {
	parts := splitPath(path)
	if len(parts) < 3 || parts[1] != "ws" {
		return "", false
	}
	if parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	return parts
}
