package proxy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botshepherd/wsproxy/pkg/config"
	"github.com/botshepherd/wsproxy/pkg/onebot"
	"github.com/botshepherd/wsproxy/pkg/target"
)

// fakeAdapter is an in-memory target.Adapter stand-in, recording every
// frame handed to Send so tests can assert fan-out/skip decisions without
// a real socket.
type fakeAdapter struct {
	mu     sync.Mutex
	sent   [][]byte
	sakoya bool
	closed bool
}

func (f *fakeAdapter) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeAdapter) Recv(ctx context.Context) target.RecvResult {
	<-ctx.Done()
	return target.RecvResult{Kind: target.RecvClosed}
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAdapter) IsSakoya() bool { return f.sakoya }

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestConnection(t *testing.T, plain, sakoya *fakeAdapter) *Connection {
	t.Helper()
	cfg := config.ConnectionConfig{Targets: []config.TargetConfig{
		{URL: "ws://plain"},
		{URL: "ws://sakoya", SakoyaProtocol: true},
	}}
	client := &fakeAdapter{}
	c := New("conn-1", client, cfg, Deps{}, context.Background())
	c.buildTargetSlots()
	require.Len(t, c.targets, 2)
	c.targets[0].setAdapter(plain)
	c.targets[1].setAdapter(sakoya)
	return c
}

func retOK() *int {
	zero := 0
	return &zero
}

func TestFanOut_DeliversToAllByDefault(t *testing.T) {
	plain, sakoya := &fakeAdapter{}, &fakeAdapter{sakoya: true}
	c := newTestConnection(t, plain, sakoya)

	env := &onebot.Envelope{PostType: "message"}
	c.fanOut(context.Background(), []byte(`{"post_type":"message"}`), env)

	assert.Equal(t, 1, plain.sentCount())
	assert.Equal(t, 1, sakoya.sentCount())
}

func TestFanOut_SkipsSakoyaForMetaEvents(t *testing.T) {
	plain, sakoya := &fakeAdapter{}, &fakeAdapter{sakoya: true}
	c := newTestConnection(t, plain, sakoya)

	env := &onebot.Envelope{PostType: "meta_event"}
	c.fanOut(context.Background(), []byte(`{"post_type":"meta_event"}`), env)

	assert.Equal(t, 1, plain.sentCount())
	assert.Equal(t, 0, sakoya.sentCount(), "meta_event posts carry no translatable content for a Sakoya target")
}

func TestFanOut_SkipsSakoyaForPassthroughActions(t *testing.T) {
	plain, sakoya := &fakeAdapter{}, &fakeAdapter{sakoya: true}
	c := newTestConnection(t, plain, sakoya)

	env := &onebot.Envelope{Action: "get_login_info", Echo: "e1"}
	c.fanOut(context.Background(), []byte(`{"action":"get_login_info"}`), env)

	assert.Equal(t, 1, plain.sentCount())
	assert.Equal(t, 0, sakoya.sentCount())
}

func TestFanOut_NilEnvelopeStillDeliversEverywhere(t *testing.T) {
	plain, sakoya := &fakeAdapter{}, &fakeAdapter{sakoya: true}
	c := newTestConnection(t, plain, sakoya)

	c.fanOut(context.Background(), []byte(`not json`), nil)

	assert.Equal(t, 1, plain.sentCount())
	assert.Equal(t, 1, sakoya.sentCount())
}

func TestRouteEchoResponse_SendsOnlyToOriginatingTarget(t *testing.T) {
	plain, sakoya := &fakeAdapter{}, &fakeAdapter{sakoya: true}
	c := newTestConnection(t, plain, sakoya)

	// The sakoya target issued this call earlier; its echo is already on file.
	c.echoes.Put(c.targets[1].index, "echo-1", "send_group_msg", time.Now())

	env := &onebot.Envelope{Status: onebot.NewStatus("ok"), RetCode: retOK(), Echo: "echo-1"}
	c.routeEchoResponse(context.Background(), env, []byte(`{"status":"ok","retcode":0,"echo":"echo-1"}`))

	assert.Equal(t, 0, plain.sentCount(), "only the originating target should receive the response")
	assert.Equal(t, 1, sakoya.sentCount())

	_, _, ok := c.echoes.TakeByEcho("echo-1")
	assert.False(t, ok, "echo entry should be consumed once routed")
}

func TestRouteEchoResponse_DropsUnmatchedEcho(t *testing.T) {
	plain, sakoya := &fakeAdapter{}, &fakeAdapter{sakoya: true}
	c := newTestConnection(t, plain, sakoya)

	env := &onebot.Envelope{Status: onebot.NewStatus("ok"), RetCode: retOK(), Echo: "unknown-echo"}
	c.routeEchoResponse(context.Background(), env, []byte(`{"status":"ok","retcode":0,"echo":"unknown-echo"}`))

	assert.Equal(t, 0, plain.sentCount())
	assert.Equal(t, 0, sakoya.sentCount())
}

func TestProcessTargetMessage_RecordsEchoForLaterClientResponse(t *testing.T) {
	plain, sakoya := &fakeAdapter{}, &fakeAdapter{sakoya: true}
	c := newTestConnection(t, plain, sakoya)

	raw := []byte(`{"action":"send_group_msg","echo":"echo-2","params":{}}`)
	c.processTargetMessage(context.Background(), c.targets[0], raw)

	_, entry, ok := c.echoes.TakeByEcho("echo-2")
	require.True(t, ok)
	assert.Equal(t, "send_group_msg", entry.Action)

	client := c.client.(*fakeAdapter)
	require.Equal(t, 1, client.sentCount(), "the call still needs to reach the client for execution")
}

func TestDeliverToClient_SendsRawFrame(t *testing.T) {
	client := &fakeAdapter{}
	c := New("conn-2", client, config.ConnectionConfig{}, Deps{}, context.Background())
	c.deliverToClient(context.Background(), []byte(`{"hello":"world"}`))
	require.Equal(t, 1, client.sentCount())
	assert.Equal(t, `{"hello":"world"}`, string(client.sent[0]))
}

func TestTeardown_ClosesClientAndAllTargets(t *testing.T) {
	plain, sakoya := &fakeAdapter{}, &fakeAdapter{sakoya: true}
	c := newTestConnection(t, plain, sakoya)
	client := c.client.(*fakeAdapter)

	c.teardown()

	assert.True(t, client.closed)
	assert.True(t, plain.closed)
	assert.True(t, sakoya.closed)
}

func TestExtractBotIDFromURL(t *testing.T) {
	id, ok := extractBotIDFromURL("ws://host:8080/ws/12345")
	require.True(t, ok)
	assert.Equal(t, "12345", id)

	_, ok = extractBotIDFromURL("ws://host:8080/ws/")
	assert.False(t, ok)
}

func TestTargetCount(t *testing.T) {
	plain, sakoya := &fakeAdapter{}, &fakeAdapter{sakoya: true}
	c := newTestConnection(t, plain, sakoya)
	assert.Equal(t, 2, c.targetCount())
}
