package builtin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botshepherd/wsproxy/pkg/onebot"
	"github.com/botshepherd/wsproxy/pkg/persistence"
)

// memStore is a minimal in-memory persistence.Store for exercising the auth
// hook without a real database.
type memStore struct {
	status map[string]persistence.AuthStatus
}

func newMemStore() *memStore { return &memStore{status: map[string]persistence.AuthStatus{}} }

func (s *memStore) SaveMessage(ctx context.Context, rec persistence.MessageRecord) error { return nil }

func (s *memStore) GetAuthStatus(ctx context.Context, botID string) (persistence.AuthStatus, error) {
	if st, ok := s.status[botID]; ok {
		return st, nil
	}
	return persistence.AuthStatus{BotID: botID}, nil
}

func (s *memStore) SetAuthenticated(ctx context.Context, botID string, when time.Time) error {
	st := s.status[botID]
	st.BotID = botID
	st.IsAuthenticated = true
	st.AuthenticatedAt = &when
	st.FailedAttempts = 0
	s.status[botID] = st
	return nil
}

func (s *memStore) RecordFailedAttempt(ctx context.Context, botID string, when time.Time, banThreshold int, banFor time.Duration) error {
	st := s.status[botID]
	st.BotID = botID
	st.FailedAttempts++
	st.LastAttemptAt = &when
	if st.FailedAttempts >= banThreshold {
		st.IsBanned = true
		until := when.Add(banFor)
		st.BannedUntil = &until
	}
	s.status[botID] = st
	return nil
}

func (s *memStore) SweepExpiredBans(ctx context.Context, now time.Time) (int, error) { return 0, nil }

// replyText extracts the text of the single message segment carried in a
// hook reply's send_*_msg params.
func replyText(t *testing.T, env *onebot.Envelope) string {
	t.Helper()
	require.NotNil(t, env)
	var params struct {
		Message []onebot.Segment `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Params, &params))
	require.Len(t, params.Message, 1)
	require.NotNil(t, params.Message[0].Text)
	return params.Message[0].Text.Text
}

func textMessageEnv(selfID int64, text string) *onebot.Envelope {
	return &onebot.Envelope{
		PostType:    "message",
		MessageType: "private",
		SelfID:      onebot.NewID(selfID),
		UserID:      onebot.NewID(42),
		Message:     []onebot.Segment{onebot.NewText(text)},
	}
}

func TestPreprocess_IgnoresOrdinaryMessages(t *testing.T) {
	h := New(newMemStore(), []string{"good-key"}, 3, time.Minute)
	env := textMessageEnv(1, "hello there")

	_, outcome, err := h.Preprocess(context.Background(), "conn-1", env)
	require.NoError(t, err)
	assert.False(t, outcome.Handled)
}

func TestPreprocess_ValidKeyAuthenticates(t *testing.T) {
	store := newMemStore()
	h := New(store, []string{"good-key"}, 3, time.Minute)
	env := textMessageEnv(1, "#auth good-key")

	_, outcome, err := h.Preprocess(context.Background(), "conn-1", env)
	require.NoError(t, err)
	require.True(t, outcome.Handled)
	require.NotNil(t, outcome.Response)
	assert.Equal(t, "authenticated", replyText(t, outcome.Response))

	status, _ := store.GetAuthStatus(context.Background(), "1")
	assert.True(t, status.IsAuthenticated)
}

func TestPreprocess_InvalidKeyIncrementsFailedAttempts(t *testing.T) {
	store := newMemStore()
	h := New(store, []string{"good-key"}, 3, time.Minute)
	env := textMessageEnv(1, "#auth wrong-key")

	_, outcome, err := h.Preprocess(context.Background(), "conn-1", env)
	require.NoError(t, err)
	assert.Equal(t, "invalid key", replyText(t, outcome.Response))

	status, _ := store.GetAuthStatus(context.Background(), "1")
	assert.Equal(t, 1, status.FailedAttempts)
	assert.False(t, status.IsBanned)
}

func TestPreprocess_BansAfterThreshold(t *testing.T) {
	store := newMemStore()
	h := New(store, []string{"good-key"}, 2, time.Minute)
	env := textMessageEnv(1, "#auth wrong-key")

	for i := 0; i < 2; i++ {
		_, _, err := h.Preprocess(context.Background(), "conn-1", env)
		require.NoError(t, err)
	}

	status, _ := store.GetAuthStatus(context.Background(), "1")
	assert.True(t, status.IsBanned)

	_, outcome, err := h.Preprocess(context.Background(), "conn-1", textMessageEnv(1, "#auth good-key"))
	require.NoError(t, err)
	assert.Contains(t, replyText(t, outcome.Response), "banned until")
}

func TestPreprocess_WhoAmI(t *testing.T) {
	store := newMemStore()
	h := New(store, []string{"good-key"}, 3, time.Minute)

	_, outcome, err := h.Preprocess(context.Background(), "conn-1", textMessageEnv(1, "#whoami"))
	require.NoError(t, err)
	assert.Equal(t, "not authenticated", replyText(t, outcome.Response))

	_, _, err = h.Preprocess(context.Background(), "conn-1", textMessageEnv(1, "#auth good-key"))
	require.NoError(t, err)

	_, outcome, err = h.Preprocess(context.Background(), "conn-1", textMessageEnv(1, "#whoami"))
	require.NoError(t, err)
	assert.Equal(t, "authenticated", replyText(t, outcome.Response))
}
