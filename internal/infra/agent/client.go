// Package agent is the direct-agent channel: a thin client for the user-account gateway
// that resolves phone numbers to messaging identities and sends as a regular account.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"booking_reminder_bot/internal/domain/messaging"
)

const (
	requestTimeout   = 30 * time.Second
	pollTimeout      = 25 * time.Second
	pollErrorBackoff = 5 * time.Second
	cacheSize        = 4096
	// used when the gateway answers 429 without saying how long to wait
	defaultRetryAfter = 5 * time.Second
)

var (
	ErrUserNotFound = fmt.Errorf("agent gateway: user not found")
	ErrGateway      = fmt.Errorf("agent gateway error")
)

// Client implements messaging.Sender and messaging.Resolver over the gateway HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	poll    *http.Client
	cache   *expirable.LRU[string, messaging.ResolveResult]
	log     *logrus.Entry
}

var (
	_ messaging.Sender   = (*Client)(nil)
	_ messaging.Resolver = (*Client)(nil)
)

// NewClient builds a gateway client. Resolutions, including misses, are cached for cacheTTL.
func NewClient(baseURL, token string, cacheTTL time.Duration, log *logrus.Entry) *Client {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		poll:    &http.Client{Timeout: pollTimeout + requestTimeout},
		cache:   expirable.NewLRU[string, messaging.ResolveResult](cacheSize, nil, cacheTTL),
		log:     log,
	}
}

func (c *Client) Name() messaging.ChannelName {
	return messaging.ChannelAgent
}

type gatewayError struct {
	Error      string  `json:"error"`
	RetryAfter float64 `json:"retry_after"`
}

func (c *Client) call(ctx context.Context, client *http.Client, method, path string, query url.Values, in, out any) (*http.Response, []byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s %s: %w", ErrGateway, method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp, nil, fmt.Errorf("%w: read body: %w", ErrGateway, err)
	}
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, raw, fmt.Errorf("%w: decode response: %w", ErrGateway, err)
		}
	}
	return resp, raw, nil
}

func statusError(resp *http.Response, raw []byte) error {
	var ge gatewayError
	_ = json.Unmarshal(raw, &ge)
	if ge.Error != "" {
		return fmt.Errorf("%w: http %d: %s", ErrGateway, resp.StatusCode, ge.Error)
	}
	return fmt.Errorf("%w: http %d", ErrGateway, resp.StatusCode)
}

type resolveResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// ResolveIdentity looks the phone up through the gateway. Transport failures are not cached.
func (c *Client) ResolveIdentity(ctx context.Context, phone string) messaging.ResolveResult {
	if res, ok := c.cache.Get(phone); ok {
		return res
	}

	var out resolveResponse
	resp, raw, err := c.call(ctx, c.http, http.MethodPost, "/v1/resolve", nil, map[string]string{"phone": phone}, &out)
	if err != nil {
		return messaging.ResolveResult{Outcome: messaging.OutcomeFailed, Err: err}
	}

	var res messaging.ResolveResult
	switch {
	case resp.StatusCode == http.StatusOK && out.UserID != 0:
		res = messaging.ResolveResult{
			Outcome:  messaging.OutcomeOK,
			Identity: messaging.Identity{Channel: messaging.ChannelAgent, UserID: out.UserID, Username: out.Username},
		}
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusNotFound:
		res = messaging.ResolveResult{Outcome: messaging.OutcomeNotFound, Err: ErrUserNotFound}
	case resp.StatusCode == http.StatusTooManyRequests:
		return messaging.ResolveResult{Outcome: messaging.OutcomeRateLimited, Err: statusError(resp, raw)}
	default:
		return messaging.ResolveResult{Outcome: messaging.OutcomeFailed, Err: statusError(resp, raw)}
	}

	c.cache.Add(phone, res)
	return res
}

type sendResponse struct {
	MessageID int64 `json:"message_id"`
}

func (c *Client) Send(ctx context.Context, userID int64, text string) messaging.SendResult {
	var out sendResponse
	resp, raw, err := c.call(ctx, c.http, http.MethodPost, "/v1/send", nil,
		map[string]any{"user_id": userID, "text": text}, &out)
	if err != nil {
		return messaging.Failed(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return messaging.Sent(out.MessageID)
	case http.StatusTooManyRequests:
		return messaging.RateLimited(retryAfter(resp, raw))
	case http.StatusNotFound, http.StatusForbidden:
		return messaging.NotFound(statusError(resp, raw))
	default:
		return messaging.Failed(statusError(resp, raw))
	}
}

// retryAfter prefers the body's retry_after and falls back to the Retry-After header.
func retryAfter(resp *http.Response, raw []byte) time.Duration {
	var ge gatewayError
	if err := json.Unmarshal(raw, &ge); err == nil && ge.RetryAfter > 0 {
		return time.Duration(ge.RetryAfter * float64(time.Second))
	}
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(h); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
			return 0
		}
	}
	return defaultRetryAfter
}

type update struct {
	UpdateID  int64  `json:"update_id"`
	SenderID  int64  `json:"sender_id"`
	Text      string `json:"text"`
	MessageID int64  `json:"message_id"`
}

type updatesResponse struct {
	Updates []update `json:"updates"`
}

func (c *Client) fetchUpdates(ctx context.Context, offset int64) ([]update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(int(pollTimeout/time.Second)))

	var out updatesResponse
	resp, raw, err := c.call(ctx, c.poll, http.MethodGet, "/v1/updates", q, nil, &out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, raw)
	}
	return out.Updates, nil
}

// Listen long-polls the gateway for inbound messages and passes them to handler
// until ctx is cancelled. Handler errors are logged; the update is acknowledged anyway.
func (c *Client) Listen(ctx context.Context, handler messaging.InboundHandler) error {
	var offset int64
	for {
		updates, err := c.fetchUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).Warn("Failed to poll agent gateway updates")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollErrorBackoff):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if strings.TrimSpace(u.Text) == "" {
				continue
			}
			msg := messaging.InboundMessage{
				Channel:    messaging.ChannelAgent,
				SenderID:   u.SenderID,
				Text:       u.Text,
				MessageID:  u.MessageID,
				ReceivedAt: time.Now().UTC(),
			}
			if err := handler.HandleInbound(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
				c.log.WithError(err).WithFields(logrus.Fields{
					"sender_id":  u.SenderID,
					"message_id": u.MessageID,
				}).Warn("Failed to handle inbound agent message")
			}
		}
	}
}
