package sakoya

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/botshepherd/wsproxy/pkg/onebot"
)

// EventToMessageReceive converts a OneBot message event into a Sakoya
// MessageReceive frame. Only post_type == "message" events convert; callers
// must check that before calling.
//
// If the event carries a reply-enrichment object (a materialized message
// array for the message being replied to), image segments found inside that
// materialized array are encoded as structured {type,content} entries and
// appended to the result's content — without removing the reply segment
// itself from the converted content. This is a separate, additive
// enrichment path from the adapter-local reply-cache enrichment in
// pkg/target, which instead looks the replied-to message up locally and
// strips the reply segment when it substitutes images in.
func EventToMessageReceive(env *onebot.Envelope) (*MessageReceive, error) {
	if env.PostType != "message" {
		return nil, fmt.Errorf("sakoya: cannot convert post_type %q to MessageReceive", env.PostType)
	}

	isGroup := env.MessageType == "group"
	userType := UserDirect
	if isGroup {
		userType = UserGroup
	}

	content := make([]Message, 0, len(env.Message))
	for _, seg := range env.Message {
		if msg, ok := onebotSegmentToSakoya(seg); ok {
			content = append(content, msg)
		}
	}

	if env.Reply != nil {
		for _, seg := range env.Reply.Message {
			if seg.Kind != onebot.SegImage || seg.Image == nil {
				continue
			}
			enc, ref := classifyImageRef(seg.Image)
			content = append(content, NewImageMessage(enc, ref))
		}
	}

	mr := &MessageReceive{
		BotSelfID: env.SelfID.String(),
		MsgID:     env.MessageID.String(),
		UserType:  userType,
		UserID:    env.UserID.String(),
		Sender:    decodeSender(env.Sender),
		UserPM:    FixedUserPM,
		Content:   content,
	}
	if isGroup {
		mr.GroupID = env.GroupID.String()
	}
	return mr, nil
}

func onebotSegmentToSakoya(seg onebot.Segment) (Message, bool) {
	switch seg.Kind {
	case onebot.SegText:
		if seg.Text == nil {
			return Message{}, false
		}
		return NewTextMessage(seg.Text.Text), true
	case onebot.SegAt:
		if seg.At == nil {
			return Message{}, false
		}
		return Message{Type: "at", Data: mustMarshalJSON(seg.At.QQ)}, true
	case onebot.SegImage:
		if seg.Image == nil {
			return Message{}, false
		}
		return Message{Type: "image", Data: mustMarshalJSON(bareImageRef(seg.Image))}, true
	case onebot.SegRecord:
		if seg.Record == nil {
			return Message{}, false
		}
		return Message{Type: "record", Data: mustMarshalJSON(bareImageRef(seg.Record))}, true
	case onebot.SegReply:
		return Message{Type: "reply", Data: mustMarshalJSON(seg.Reply.ID.String())}, true
	default:
		// Every other segment type falls back to a text rendering of its raw
		// data rather than vanishing from the translated content.
		return NewTextMessage(renderSegmentJSON(seg)), true
	}
}

// renderSegmentJSON renders any segment to a text string for the Sakoya
// fallback path, reusing the human-readable per-type rendering where one
// exists and falling back to the segment's raw JSON for anything else.
func renderSegmentJSON(seg onebot.Segment) string {
	if s := onebot.RenderSegmentText(seg); s != "" {
		return s
	}
	b, err := json.Marshal(seg)
	if err != nil {
		return ""
	}
	return string(b)
}

// bareImageRef picks the single string value a normal inline image segment
// degrades to: URL, base64 payload, or filename fallback, in that
// preference order.
func bareImageRef(img *onebot.MediaData) string {
	switch {
	case img.URL != "":
		return img.URL
	case strings.HasPrefix(img.File, "base64://"):
		return img.File
	case img.File != "":
		return img.File
	case img.Path != "":
		return img.Path
	default:
		return img.Name
	}
}

// classifyImageRef picks the encoding tag used when an image is pulled in
// through reply-enrichment, which (unlike a normal inline image segment)
// always uses the structured {type,content} form.
func classifyImageRef(img *onebot.MediaData) (encoding, content string) {
	switch {
	case strings.HasPrefix(img.File, "base64://"):
		return "b64", strings.TrimPrefix(img.File, "base64://")
	case img.URL != "":
		return "url", img.URL
	case img.File != "":
		return "file", img.File
	default:
		return "file", img.Name
	}
}

func decodeSender(raw json.RawMessage) Sender {
	var full struct {
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	}
	_ = json.Unmarshal(raw, &full)
	return Sender{Nickname: full.Nickname, Card: full.Card}
}

// MessageReceiveToEvent converts a Sakoya MessageReceive frame into a
// OneBot message event, reconstructing a full sender object with the
// defaults OneBot consumers expect and rendering raw_message from a
// per-type textual summary of each content entry.
func MessageReceiveToEvent(mr *MessageReceive, selfID int64) *onebot.Envelope {
	messageType := "private"
	if mr.UserType == UserGroup {
		messageType = "group"
	}

	segs := make([]onebot.Segment, 0, len(mr.Content))
	var rawParts []string
	for _, m := range mr.Content {
		seg, rendered, ok := sakoyaMessageToOneBot(m)
		if !ok {
			continue
		}
		segs = append(segs, seg)
		rawParts = append(rawParts, rendered)
	}

	uid, _ := strconv.ParseInt(mr.UserID, 10, 64)
	env := &onebot.Envelope{
		PostType:    "message",
		MessageType: messageType,
		SubType:     "normal",
		SelfID:      onebot.NewID(selfID),
		MessageID:   stringOrNewID(mr.MsgID),
		UserID:      onebot.NewID(uid),
		Message:     segs,
		RawMessage:  strings.Join(rawParts, ""),
		Sender:      mustMarshalJSON(senderObject(mr.Sender, uid)),
	}
	if mr.UserType == UserGroup {
		gid, _ := strconv.ParseInt(mr.GroupID, 10, 64)
		env.GroupID = onebot.NewID(gid)
	}
	return env
}

func stringOrNewID(s string) onebot.ID {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return onebot.NewID(0)
	}
	return onebot.NewID(v)
}

func senderObject(s Sender, userID int64) map[string]any {
	return map[string]any{
		"user_id":  userID,
		"nickname": s.Nickname,
		"card":     s.Card,
		"sex":      "unknown",
		"age":      0,
		"area":     "",
		"level":    "",
		"role":     "member",
		"title":    "",
	}
}

// sakoyaMessageToOneBot converts one Sakoya content entry to a OneBot
// segment plus its raw_message rendering. log_*-typed entries are silently
// dropped (not even rendered to text); an image entry whose payload has an
// unexpected shape or encoding is logged and, like any other unrecognized
// type, falls back to a text segment rendering its raw data.
func sakoyaMessageToOneBot(m Message) (onebot.Segment, string, bool) {
	if strings.HasPrefix(m.Type, "log_") {
		return onebot.Segment{}, "", false
	}
	switch m.Type {
	case "text":
		s, _ := m.TextValue()
		return onebot.NewText(s), s, true
	case "at":
		id, _ := m.TextValue()
		return onebot.Segment{Kind: onebot.SegAt, At: &onebot.AtData{QQ: id}}, "@" + id, true
	case "image":
		img, err := m.ImageValue()
		if err != nil {
			// Malformed image payload: log it and fall back to a text
			// segment carrying the raw data rather than emit a broken image.
			log.Warn().Err(err).Msg("sakoya: unexpected image payload, falling back to text")
			return onebot.NewText(string(m.Data)), string(m.Data), true
		}
		data := imageDataToMedia(img)
		if data == nil {
			log.Warn().Str("image_type", img.StructuredType).Msg("sakoya: unsupported image encoding, falling back to text")
			return onebot.NewText(string(m.Data)), string(m.Data), true
		}
		return onebot.Segment{Kind: onebot.SegImage, Image: data}, "[图片]", true
	case "reply":
		id, _ := m.TextValue()
		idv, _ := strconv.ParseInt(id, 10, 64)
		return onebot.Segment{Kind: onebot.SegReply, Reply: &onebot.ReplyData{ID: onebot.NewID(idv)}}, "[回复]", true
	case "record":
		return onebot.Segment{Kind: onebot.SegRecord, Record: &onebot.MediaData{}}, "[语音]", true
	case "file":
		return onebot.Segment{Kind: onebot.SegFile, File: &onebot.MediaData{}}, "[文件]", true
	case "node":
		s, _ := m.TextValue()
		return onebot.NewText(s), "[forward]", true
	case "markdown":
		s, _ := m.TextValue()
		return onebot.NewText(s), s, true
	case "buttons":
		return onebot.Segment{Kind: onebot.SegButtons}, "[buttons]", true
	default:
		s, ok := m.TextValue()
		if !ok {
			s = string(m.Data)
		}
		return onebot.NewText(s), s, true
	}
}

func imageDataToMedia(img ImageData) *onebot.MediaData {
	switch img.Kind {
	case ImageKindBare:
		if strings.HasPrefix(img.Bare, "http://") || strings.HasPrefix(img.Bare, "https://") {
			return &onebot.MediaData{URL: img.Bare}
		}
		return &onebot.MediaData{File: img.Bare}
	case ImageKindStructured:
		switch img.StructuredType {
		case "b64":
			content := img.StructuredContent
			if !strings.HasPrefix(content, "base64://") {
				content = "base64://" + content
			}
			return &onebot.MediaData{File: content}
		case "url":
			return &onebot.MediaData{URL: img.StructuredContent}
		case "file":
			return &onebot.MediaData{File: img.StructuredContent}
		default:
			return nil
		}
	default:
		return nil
	}
}

// SendToOneBotAPI converts a Sakoya MessageSend frame into a OneBot
// send_*_msg API call request, generating a fresh echo. Callers are
// responsible for routing the resulting echo through the proxy's echo
// cache exactly as any other outbound API call.
func SendToOneBotAPI(ms *MessageSend) *onebot.Envelope {
	action := "send_private_msg"
	params := map[string]any{}
	if ms.TargetType == TargetGroup {
		action = "send_group_msg"
		gid, _ := strconv.ParseInt(ms.TargetID, 10, 64)
		params["group_id"] = gid
	} else {
		uid, _ := strconv.ParseInt(ms.TargetID, 10, 64)
		params["user_id"] = uid
	}

	segs := make([]onebot.Segment, 0, len(ms.Content))
	for _, m := range ms.Content {
		if seg, _, ok := sakoyaMessageToOneBot(m); ok {
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		segs = append(segs, onebot.NewText(""))
	}
	params["message"] = segs

	paramsJSON, _ := json.Marshal(params)
	return &onebot.Envelope{
		Action: action,
		Params: paramsJSON,
		Echo:   uuid.New().String(),
	}
}

// OneBotSendToSakoya converts an outbound OneBot send_*_msg API call into a
// Sakoya MessageSend frame. Forward/node segments degrade to a fixed
// placeholder text rather than being expanded, unlike the receive-side node
// handling which concatenates the node's direct text children.
func OneBotSendToSakoya(env *onebot.Envelope, botID string) (*MessageSend, error) {
	if !onebot.IsSendAction(env.Action) {
		return nil, fmt.Errorf("sakoya: action %q is not a send action", env.Action)
	}
	var params struct {
		GroupID ID      `json:"group_id"`
		UserID  ID      `json:"user_id"`
		Message []onebot.Segment `json:"message"`
	}
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return nil, fmt.Errorf("sakoya: decoding send params: %w", err)
	}

	targetType := TargetDirect
	targetID := params.UserID.String()
	if strings.Contains(env.Action, "group") {
		targetType = TargetGroup
		targetID = params.GroupID.String()
	}

	content := make([]Message, 0, len(params.Message))
	for _, seg := range params.Message {
		content = append(content, oneBotSegmentToSakoyaSend(seg))
	}

	return &MessageSend{
		BotID:      botID,
		TargetType: targetType,
		TargetID:   targetID,
		Content:    content,
	}, nil
}

func oneBotSegmentToSakoyaSend(seg onebot.Segment) Message {
	switch seg.Kind {
	case onebot.SegText:
		if seg.Text != nil {
			return NewTextMessage(seg.Text.Text)
		}
	case onebot.SegImage:
		if seg.Image != nil {
			enc, ref := classifyImageRef(seg.Image)
			return NewImageMessage(enc, ref)
		}
	case onebot.SegForward, onebot.SegNode:
		return NewTextMessage("[forward message unsupported]")
	}
	return NewTextMessage("")
}

// ID is a local alias so OneBotSendToSakoya can decode group_id/user_id
// fields with the same numeric-or-string flexibility as the rest of the
// OneBot codec without importing onebot.ID's unexported internals.
type ID = onebot.ID
