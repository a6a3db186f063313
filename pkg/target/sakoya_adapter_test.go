package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botshepherd/wsproxy/pkg/onebot"
	"github.com/botshepherd/wsproxy/pkg/sakoya"
)

func TestEnrichReply_PrependsImagesAndStripsReplySegment(t *testing.T) {
	a := &sakoyaAdapter{botID: "bot1", cache: newReplyCache()}

	first := &onebot.Envelope{
		MessageID: onebot.NewID(1),
		Message: []onebot.Segment{
			{Kind: onebot.SegImage, Image: &onebot.MediaData{URL: "http://x/a.png"}},
			onebot.NewText("first"),
		},
	}
	a.enrichReply(first)

	second := &onebot.Envelope{
		MessageID: onebot.NewID(2),
		Message: []onebot.Segment{
			{Kind: onebot.SegReply, Reply: &onebot.ReplyData{ID: onebot.NewID(1)}},
			onebot.NewText("second"),
		},
	}
	a.enrichReply(second)

	require.Len(t, second.Message, 2)
	assert.Equal(t, onebot.SegImage, second.Message[0].Kind)
	assert.Equal(t, onebot.SegText, second.Message[1].Kind)
}

func TestEnrichReply_NoReplySegmentIsNoop(t *testing.T) {
	a := &sakoyaAdapter{botID: "bot1", cache: newReplyCache()}
	env := &onebot.Envelope{MessageID: onebot.NewID(1), Message: []onebot.Segment{onebot.NewText("hi")}}
	before := len(env.Message)
	a.enrichReply(env)
	assert.Len(t, env.Message, before)
}

func TestStrictDecodeMessageSend_RejectsMessageReceiveShape(t *testing.T) {
	receive := []byte(`{"bot_id":"b","user_type":"group","content":[]}`)
	var ms sakoya.MessageSend
	err := strictDecodeMessageSend(receive, &ms)
	assert.Error(t, err)
}

func TestStrictDecodeMessageSend_AcceptsMessageSendShape(t *testing.T) {
	send := []byte(`{"bot_id":"b","target_type":"direct","target_id":"1","content":[]}`)
	var ms sakoya.MessageSend
	err := strictDecodeMessageSend(send, &ms)
	assert.NoError(t, err)
	assert.Equal(t, sakoya.TargetDirect, ms.TargetType)
}

func TestSniffFileMIME_UnknownData(t *testing.T) {
	assert.Equal(t, "", SniffFileMIME([]byte("not a real file")))
}
