package onebot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope_Event(t *testing.T) {
	raw := []byte(`{"post_type":"message","message_type":"group","self_id":123,"user_id":"456","group_id":789,"message":[{"type":"text","data":{"text":"hi"}}]}`)
	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, KindEvent, env.Kind())

	selfID, ok := env.SelfID.Int64()
	require.True(t, ok)
	assert.Equal(t, int64(123), selfID)

	assert.True(t, env.UserID.isString)
	assert.Equal(t, "456", env.UserID.String())

	require.Len(t, env.Message, 1)
	assert.Equal(t, SegText, env.Message[0].Kind)
	assert.Equal(t, "hi", env.Message[0].Text.Text)
}

func TestParseEnvelope_APIRequestAndResponse(t *testing.T) {
	req := []byte(`{"action":"send_group_msg","params":{"group_id":1},"echo":"abc"}`)
	env, err := ParseEnvelope(req)
	require.NoError(t, err)
	assert.Equal(t, KindAPIRequest, env.Kind())

	resp := []byte(`{"status":"ok","retcode":0,"data":{"message_id":1},"echo":"abc"}`)
	env2, err := ParseEnvelope(resp)
	require.NoError(t, err)
	assert.Equal(t, KindAPIResponse, env2.Kind())
	assert.True(t, CheckAPISuccess(env2))
}

func TestParseEnvelope_HeartbeatStatusObject(t *testing.T) {
	raw := []byte(`{"post_type":"meta_event","meta_event_type":"heartbeat","status":{"online":true,"good":true},"interval":5000,"self_id":123,"time":1}`)
	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, KindEvent, env.Kind())

	_, ok := env.StatusString()
	assert.False(t, ok, "a heartbeat's status object is not a plain status string")
}

func TestID_RoundTripsStringAndNumber(t *testing.T) {
	var numeric ID
	require.NoError(t, numeric.UnmarshalJSON([]byte("42")))
	b, err := numeric.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "42", string(b))

	var stringy ID
	require.NoError(t, stringy.UnmarshalJSON([]byte(`"42"`)))
	b2, err := stringy.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"42"`, string(b2))
}

func TestID_NullIsZero(t *testing.T) {
	var id ID
	require.NoError(t, id.UnmarshalJSON([]byte("null")))
	assert.True(t, id.IsZero())
	_, ok := id.Int64()
	assert.False(t, ok)
}

func TestSegment_UnknownTypeRoundTrips(t *testing.T) {
	raw := []byte(`{"type":"xml","data":{"content":"<msg/>"}}`)
	var seg Segment
	require.NoError(t, seg.UnmarshalJSON(raw))
	assert.Equal(t, SegUnknown, seg.Kind)

	out, err := seg.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestRenderRawMessage(t *testing.T) {
	segs := []Segment{
		NewText("hello "),
		{Kind: SegAt, At: &AtData{QQ: "10001"}},
		{Kind: SegImage},
	}
	assert.Equal(t, "hello @10001[图片]", RenderRawMessage(segs))
}

func TestIsSendAction(t *testing.T) {
	assert.True(t, IsSendAction("send_group_msg"))
	assert.True(t, IsSendAction("send_private_msg"))
	assert.False(t, IsSendAction("get_msg"))
	assert.False(t, IsSendAction("delete_msg"))
}

func TestIsPassthroughAction(t *testing.T) {
	assert.True(t, IsPassthroughAction("get_status"))
	assert.False(t, IsPassthroughAction("send_group_msg"))
}
