// internal/domain/messaging/channel.go
package messaging

import (
	"context"
	"fmt"
	"time"
)

// ChannelName identifies a delivery path.
type ChannelName string

const (
	ChannelBot   ChannelName = "bot"   // managed bot, requires customer opt-in
	ChannelAgent ChannelName = "agent" // direct agent account, requires identity resolution
)

// Identity is a resolved messaging recipient.
type Identity struct {
	Channel  ChannelName
	UserID   int64
	Username string
}

// Outcome classifies the result of a transport call.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeRateLimited
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// SendResult is what a channel reports for one send attempt.
type SendResult struct {
	Outcome    Outcome
	MessageID  int64
	RetryAfter time.Duration // set for OutcomeRateLimited
	Err        error         // set for OutcomeFailed, optional otherwise
}

// Sent builds a successful result.
func Sent(messageID int64) SendResult {
	return SendResult{Outcome: OutcomeOK, MessageID: messageID}
}

// RateLimited builds a rate-limit result carrying the server-specified wait.
func RateLimited(wait time.Duration) SendResult {
	return SendResult{Outcome: OutcomeRateLimited, RetryAfter: wait}
}

// Failed builds a transport failure result.
func Failed(err error) SendResult {
	return SendResult{Outcome: OutcomeFailed, Err: err}
}

// NotFound builds a result for an unreachable recipient.
func NotFound(err error) SendResult {
	return SendResult{Outcome: OutcomeNotFound, Err: err}
}

// ResolveResult is the result of looking up a messaging identity by phone.
type ResolveResult struct {
	Outcome  Outcome
	Identity Identity
	Err      error
}

// Sender delivers text to a user id on one channel.
type Sender interface {
	Name() ChannelName
	Send(ctx context.Context, userID int64, text string) SendResult
}

// Resolver finds a messaging identity for a phone number.
type Resolver interface {
	ResolveIdentity(ctx context.Context, phone string) ResolveResult
}

// InboundMessage is a message received from a customer.
type InboundMessage struct {
	Channel    ChannelName
	SenderID   int64
	Text       string
	MessageID  int64
	ReceivedAt time.Time
}

// InboundHandler consumes inbound messages.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) error
}
