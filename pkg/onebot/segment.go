package onebot

import (
	"encoding/json"
	"fmt"

	"github.com/gomarkdown/markdown"
	mdtext "github.com/gomarkdown/markdown/ast"
)

// SegmentKind identifies the shape of a message segment's Data payload.
type SegmentKind string

const (
	SegText     SegmentKind = "text"
	SegAt       SegmentKind = "at"
	SegImage    SegmentKind = "image"
	SegRecord   SegmentKind = "record"
	SegVideo    SegmentKind = "video"
	SegFile     SegmentKind = "file"
	SegReply    SegmentKind = "reply"
	SegFace     SegmentKind = "face"
	SegNode     SegmentKind = "node"
	SegForward  SegmentKind = "forward"
	SegMarkdown SegmentKind = "markdown"
	SegButtons  SegmentKind = "buttons"
	SegUnknown  SegmentKind = ""
)

// Segment is a single entry in a OneBot message array. Exactly one of the
// typed fields below is populated, selected by Kind; Unknown carries the raw
// data object for segment types this package does not model explicitly, so
// that round-tripping an envelope never drops information.
type Segment struct {
	Kind SegmentKind

	Text    *TextData
	At      *AtData
	Image   *MediaData
	Record  *MediaData
	Video   *MediaData
	File    *MediaData
	Reply   *ReplyData
	Face    *FaceData
	Node    *NodeData
	Forward *ForwardData
	MD      *MarkdownData
	Buttons *ButtonsData
	Unknown json.RawMessage
}

type TextData struct {
	Text string `json:"text"`
}

type AtData struct {
	QQ string `json:"qq"`
}

// MediaData covers image/record/video/file segments, which all share the
// same {file, url, path, name} shape in practice; an inline base64 payload
// travels in File with a "base64://" prefix.
type MediaData struct {
	File string `json:"file,omitempty"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
	Name string `json:"name,omitempty"`
}

type ReplyData struct {
	ID ID `json:"id"`
}

type FaceData struct {
	ID string `json:"id"`
}

// NodeData is a forward-message node: either a reference to an existing
// message (ID set) or an inline node carrying its own content.
type NodeData struct {
	ID      ID        `json:"id,omitempty"`
	UserID  ID        `json:"user_id,omitempty"`
	Nick    string    `json:"nickname,omitempty"`
	Content []Segment `json:"content,omitempty"`
}

type ForwardData struct {
	ID string `json:"id"`
}

type MarkdownData struct {
	Content string `json:"content"`
}

type ButtonsData struct {
	Raw json.RawMessage `json:"-"`
}

type rawSegment struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes a single segment object, preserving unrecognized
// segment types verbatim instead of coercing or dropping them.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var rs rawSegment
	if err := json.Unmarshal(data, &rs); err != nil {
		return fmt.Errorf("onebot: decoding segment: %w", err)
	}
	s.Kind = SegmentKind(rs.Type)
	switch s.Kind {
	case SegText:
		s.Text = &TextData{}
		return json.Unmarshal(rs.Data, s.Text)
	case SegAt:
		s.At = &AtData{}
		return json.Unmarshal(rs.Data, s.At)
	case SegImage:
		s.Image = &MediaData{}
		return json.Unmarshal(rs.Data, s.Image)
	case SegRecord:
		s.Record = &MediaData{}
		return json.Unmarshal(rs.Data, s.Record)
	case SegVideo:
		s.Video = &MediaData{}
		return json.Unmarshal(rs.Data, s.Video)
	case SegFile:
		s.File = &MediaData{}
		return json.Unmarshal(rs.Data, s.File)
	case SegReply:
		s.Reply = &ReplyData{}
		return json.Unmarshal(rs.Data, s.Reply)
	case SegFace:
		s.Face = &FaceData{}
		return json.Unmarshal(rs.Data, s.Face)
	case SegNode:
		s.Node = &NodeData{}
		return json.Unmarshal(rs.Data, s.Node)
	case SegForward:
		s.Forward = &ForwardData{}
		return json.Unmarshal(rs.Data, s.Forward)
	case SegMarkdown:
		s.MD = &MarkdownData{}
		return json.Unmarshal(rs.Data, s.MD)
	case SegButtons:
		s.Buttons = &ButtonsData{Raw: rs.Data}
		return nil
	default:
		s.Kind = SegUnknown
		s.Unknown = data
		return nil
	}
}

func (s Segment) MarshalJSON() ([]byte, error) {
	if s.Kind == SegUnknown {
		if len(s.Unknown) > 0 {
			return s.Unknown, nil
		}
		return []byte(`{"type":"unknown","data":{}}`), nil
	}
	var data any
	switch s.Kind {
	case SegText:
		data = s.Text
	case SegAt:
		data = s.At
	case SegImage:
		data = s.Image
	case SegRecord:
		data = s.Record
	case SegVideo:
		data = s.Video
	case SegFile:
		data = s.File
	case SegReply:
		data = s.Reply
	case SegFace:
		data = s.Face
	case SegNode:
		data = s.Node
	case SegForward:
		data = s.Forward
	case SegMarkdown:
		data = s.MD
	case SegButtons:
		if s.Buttons != nil && len(s.Buttons.Raw) > 0 {
			data = s.Buttons.Raw
		} else {
			data = map[string]any{}
		}
	default:
		data = map[string]any{}
	}
	return json.Marshal(rawSegment{Type: string(s.Kind), Data: mustMarshal(data)})
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// NewText builds a plain text segment.
func NewText(text string) Segment {
	return Segment{Kind: SegText, Text: &TextData{Text: text}}
}

// RenderRawMessage builds the human-readable raw_message string OneBot
// events carry alongside the structured segment array, by concatenating a
// short per-segment rendering of each entry.
func RenderRawMessage(segments []Segment) string {
	var out string
	for _, seg := range segments {
		out += renderSegment(seg)
	}
	return out
}

// RenderSegmentText renders a single segment the same way RenderRawMessage
// renders one entry of a message array, for callers that fall back to a
// segment's text rendering outside of a full raw_message build.
func RenderSegmentText(seg Segment) string {
	return renderSegment(seg)
}

func renderSegment(seg Segment) string {
	switch seg.Kind {
	case SegText:
		if seg.Text != nil {
			return seg.Text.Text
		}
	case SegAt:
		if seg.At != nil {
			return "@" + seg.At.QQ
		}
	case SegImage:
		return "[图片]"
	case SegRecord:
		return "[语音]"
	case SegVideo:
		return "[video]"
	case SegFile:
		return "[文件]"
	case SegReply:
		return "[回复]"
	case SegMarkdown:
		if seg.MD != nil {
			return plainMarkdown(seg.MD.Content)
		}
	case SegButtons:
		return "[buttons]"
	case SegForward:
		return "[forward]"
	case SegNode:
		return renderNodeText(seg.Node)
	}
	return ""
}

func renderNodeText(n *NodeData) string {
	if n == nil {
		return ""
	}
	var out string
	for _, c := range n.Content {
		if c.Kind == SegText && c.Text != nil {
			out += c.Text.Text
		}
	}
	return out
}

// plainMarkdown degrades a Markdown segment body to plain text by walking
// the parsed AST and concatenating leaf text nodes, so Markdown segments
// never leak raw Markdown source into raw_message or a dialect that does
// not render it.
func plainMarkdown(src string) string {
	doc := markdown.Parse([]byte(src), nil)
	var out []byte
	mdtext.WalkFunc(doc, func(n mdtext.Node, entering bool) mdtext.WalkStatus {
		if !entering {
			return mdtext.GoToNext
		}
		if leaf, ok := n.(*mdtext.Text); ok {
			out = append(out, leaf.Literal...)
		}
		return mdtext.GoToNext
	})
	if len(out) == 0 {
		return src
	}
	return string(out)
}
