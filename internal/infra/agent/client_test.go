package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking_reminder_bot/internal/domain/messaging"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "secret", time.Minute, logrus.NewEntry(logrus.New()))
}

func TestResolveIdentityCachesHitsAndMisses(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/resolve", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in["phone"] == "+79990001122" {
			_, _ = io.WriteString(w, `{"user_id": 555, "username": "anna"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	ctx := context.Background()

	res := c.ResolveIdentity(ctx, "+79990001122")
	require.Equal(t, messaging.OutcomeOK, res.Outcome)
	assert.Equal(t, int64(555), res.Identity.UserID)
	assert.Equal(t, "anna", res.Identity.Username)
	assert.Equal(t, messaging.ChannelAgent, res.Identity.Channel)

	miss := c.ResolveIdentity(ctx, "+70000000000")
	assert.Equal(t, messaging.OutcomeNotFound, miss.Outcome)
	assert.ErrorIs(t, miss.Err, ErrUserNotFound)

	c.ResolveIdentity(ctx, "+79990001122")
	c.ResolveIdentity(ctx, "+70000000000")
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolveIdentityServerErrorIsNotCached(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error": "session expired"}`)
	})
	res := c.ResolveIdentity(context.Background(), "+79990001122")
	assert.Equal(t, messaging.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrGateway)
	assert.Contains(t, res.Err.Error(), "session expired")

	c.ResolveIdentity(context.Background(), "+79990001122")
	assert.Equal(t, int32(2), calls.Load())
}

func TestSend(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/send", r.URL.Path)
		var in struct {
			UserID int64  `json:"user_id"`
			Text   string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		switch in.UserID {
		case 1:
			_, _ = io.WriteString(w, `{"message_id": 99}`)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error": "flood", "retry_after": 12}`)
		case 3:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case 4:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	ctx := context.Background()

	ok := c.Send(ctx, 1, "hi")
	assert.Equal(t, messaging.OutcomeOK, ok.Outcome)
	assert.Equal(t, int64(99), ok.MessageID)

	body := c.Send(ctx, 2, "hi")
	assert.Equal(t, messaging.OutcomeRateLimited, body.Outcome)
	assert.Equal(t, 12*time.Second, body.RetryAfter)

	header := c.Send(ctx, 3, "hi")
	assert.Equal(t, messaging.OutcomeRateLimited, header.Outcome)
	assert.Equal(t, 7*time.Second, header.RetryAfter)

	assert.Equal(t, messaging.OutcomeNotFound, c.Send(ctx, 4, "hi").Outcome)

	failed := c.Send(ctx, 5, "hi")
	assert.Equal(t, messaging.OutcomeFailed, failed.Outcome)
	assert.ErrorIs(t, failed.Err, ErrGateway)
}

func TestSendTransportFailure(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", time.Minute, logrus.NewEntry(logrus.New()))
	res := c.Send(context.Background(), 1, "hi")
	assert.Equal(t, messaging.OutcomeFailed, res.Outcome)
	assert.Error(t, res.Err)
}

type recordingHandler struct {
	mu     sync.Mutex
	msgs   []messaging.InboundMessage
	cancel context.CancelFunc
	want   int
}

func (h *recordingHandler) HandleInbound(_ context.Context, msg messaging.InboundMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	if len(h.msgs) == h.want {
		h.cancel()
	}
	return nil
}

func TestListenAdvancesOffset(t *testing.T) {
	var mu sync.Mutex
	var offsets []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/updates", r.URL.Path)
		mu.Lock()
		offsets = append(offsets, r.URL.Query().Get("offset"))
		n := len(offsets)
		mu.Unlock()
		switch n {
		case 1:
			_, _ = io.WriteString(w, `{"updates": [
				{"update_id": 10, "sender_id": 555, "text": "да", "message_id": 1},
				{"update_id": 11, "sender_id": 556, "text": "  ", "message_id": 2}
			]}`)
		default:
			_, _ = io.WriteString(w, `{"updates": [{"update_id": 12, "sender_id": 557, "text": "ok", "message_id": 3}]}`)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &recordingHandler{cancel: cancel, want: 2}
	require.NoError(t, c.Listen(ctx, h))

	require.Len(t, h.msgs, 2)
	assert.Equal(t, int64(555), h.msgs[0].SenderID)
	assert.Equal(t, "да", h.msgs[0].Text)
	assert.Equal(t, messaging.ChannelAgent, h.msgs[0].Channel)
	assert.Equal(t, int64(557), h.msgs[1].SenderID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0", "12"}, offsets[:2])
}
