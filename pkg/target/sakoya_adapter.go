package target

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/h2non/filetype"

	"github.com/botshepherd/wsproxy/pkg/onebot"
	"github.com/botshepherd/wsproxy/pkg/sakoya"
)

// sakoyaAdapter wraps a plain WebSocket connection to a Sakoya-dialect
// target, translating OneBot frames to/from Sakoya on the way through. It
// holds the bounded reply cache used to resolve reply segments to the
// images of the message being replied to.
type sakoyaAdapter struct {
	inner Adapter
	botID string
	cache *replyCache
}

// WrapSakoya adapts an already-dialed plain connection into a Sakoya
// translating adapter for the given bot identity. inner is driven through
// the Adapter interface, so any Adapter implementation can be wrapped.
func WrapSakoya(inner Adapter, botID string) Adapter {
	return &sakoyaAdapter{inner: inner, botID: botID, cache: newReplyCache()}
}

func (a *sakoyaAdapter) IsSakoya() bool { return true }

func (a *sakoyaAdapter) Close() error { return a.inner.Close() }

// Send translates an outbound OneBot-shaped frame for a Sakoya target,
// following the same branch order the reference dialect uses: API
// responses and meta-events never reach a Sakoya peer; message events are
// reply-enriched then converted; passthrough actions and any non-send
// action forward untouched in OneBot JSON even to a Sakoya target.
func (a *sakoyaAdapter) Send(ctx context.Context, frame []byte) error {
	env, err := onebot.ParseEnvelope(frame)
	if err != nil {
		// Not a JSON OneBot frame at all: forward the raw bytes.
		return a.inner.Send(ctx, frame)
	}

	switch env.Kind() {
	case onebot.KindAPIResponse:
		return nil
	case onebot.KindEvent:
		if env.PostType == "meta_event" {
			return nil
		}
		if env.PostType != "message" {
			return a.inner.Send(ctx, frame)
		}
		a.enrichReply(env)
		mr, err := sakoya.EventToMessageReceive(env)
		if err != nil {
			log.Warn().Err(err).Str("bot_id", a.botID).Msg("sakoya: event conversion failed, forwarding raw")
			return a.inner.Send(ctx, frame)
		}
		mr.BotID = a.botID
		out, err := json.Marshal(mr)
		if err != nil {
			return a.inner.Send(ctx, frame)
		}
		return a.inner.Send(ctx, out)
	case onebot.KindAPIRequest:
		if onebot.IsPassthroughAction(env.Action) || !onebot.IsSendAction(env.Action) {
			return a.inner.Send(ctx, frame)
		}
		ms, err := sakoya.OneBotSendToSakoya(env, a.botID)
		if err != nil {
			return a.inner.Send(ctx, frame)
		}
		out, err := json.Marshal(ms)
		if err != nil {
			return a.inner.Send(ctx, frame)
		}
		return a.inner.Send(ctx, out)
	default:
		return a.inner.Send(ctx, frame)
	}
}

// enrichReply caches the current message by message_id, then — if the
// event's message array contains a reply segment — looks up the message it
// points to and, for each image segment found there, prepends an
// equivalent image segment to the current message and removes the reply
// segment. Mutates env.Message in place.
func (a *sakoyaAdapter) enrichReply(env *onebot.Envelope) {
	msgID := env.MessageID.String()
	a.cache.Put(msgID, env.Message)

	replyIdx := -1
	var replyTo string
	for i, seg := range env.Message {
		if seg.Kind == onebot.SegReply && seg.Reply != nil {
			replyIdx = i
			replyTo = seg.Reply.ID.String()
			break
		}
	}
	if replyIdx < 0 {
		return
	}

	referenced, ok := a.cache.Get(replyTo)
	if !ok {
		return
	}

	var images []onebot.Segment
	for _, seg := range referenced {
		if seg.Kind == onebot.SegImage {
			images = append(images, seg)
		}
	}
	if len(images) == 0 {
		return
	}

	out := make([]onebot.Segment, 0, len(env.Message)-1+len(images))
	out = append(out, images...)
	for i, seg := range env.Message {
		if i == replyIdx {
			continue
		}
		out = append(out, seg)
	}
	env.Message = out
}

// Recv reads the next frame from the Sakoya target and translates it back
// into a OneBot-shaped frame. A MessageSend frame is decoded strictly
// first; failing that, a duck-typed check for {bot_id, content} treats it
// as a MessageReceive; anything else passes through byte-for-byte
// untouched, not even re-serialized.
func (a *sakoyaAdapter) Recv(ctx context.Context) RecvResult {
	res := a.inner.Recv(ctx)
	if res.Kind != RecvFrame {
		return res
	}

	var send sakoya.MessageSend
	if err := strictDecodeMessageSend(res.Data, &send); err == nil {
		env := sakoya.SendToOneBotAPI(&send)
		out, err := env.Encode()
		if err != nil {
			return RecvResult{Kind: RecvError, Err: err}
		}
		return RecvResult{Kind: RecvFrame, Data: out}
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(res.Data, &generic); err == nil {
		if _, hasBot := generic["bot_id"]; hasBot {
			if _, hasContent := generic["content"]; hasContent {
				var recv sakoya.MessageReceive
				if err := json.Unmarshal(res.Data, &recv); err == nil {
					event := sakoya.MessageReceiveToEvent(&recv, 0)
					out, err := event.Encode()
					if err == nil {
						return RecvResult{Kind: RecvFrame, Data: out}
					}
				}
			}
		}
	}

	return RecvResult{Kind: RecvFrame, Data: res.Data}
}

// strictDecodeMessageSend requires target_type and target_id to be present
// so an ordinary MessageReceive frame (which lacks both) is rejected rather
// than decoded into a zero-valued MessageSend.
func strictDecodeMessageSend(data []byte, out *sakoya.MessageSend) error {
	var probe struct {
		TargetType string `json:"target_type"`
		TargetID   string `json:"target_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.TargetType == "" || probe.TargetID == "" {
		return errNotMessageSend
	}
	return json.Unmarshal(data, out)
}

var errNotMessageSend = fmtError("sakoya: not a MessageSend frame")

type fmtError string

func (e fmtError) Error() string { return string(e) }

// SniffFileMIME reports the MIME type sniffed from a file/image segment's
// bytes, used only for persistence/diagnostic metadata; the wire format
// sent to either dialect is unaffected.
func SniffFileMIME(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
