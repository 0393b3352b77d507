// Package protocol implements the per-message state machine that validates,
// authorizes, and routes every inbound envelope.
package protocol

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/relaypulse/internal/domain"
	"github.com/pscheid92/relaypulse/internal/metrics"
	"github.com/pscheid92/relaypulse/internal/ratelimit"
	"github.com/pscheid92/relaypulse/internal/session"
)

// Enqueuer is the slice of the broadcaster the protocol needs.
type Enqueuer interface {
	Enqueue(channel string, envelope domain.Envelope) error
	EnqueueGlobal(envelope domain.Envelope) error
}

// Protocol drives a session from Connected through Authenticated, one
// envelope at a time. Every rejected precondition produces an error reply
// with a stable code; nothing here ever closes a connection.
type Protocol struct {
	registry    *session.Registry
	limiter     *ratelimit.Limiter
	broadcaster Enqueuer
	verifier    domain.CredentialVerifier
	authorizer  domain.Authorizer
	sink        domain.Sink
	clock       clockwork.Clock
	generateID  domain.IDGenerator
}

func New(
	registry *session.Registry,
	limiter *ratelimit.Limiter,
	broadcaster Enqueuer,
	verifier domain.CredentialVerifier,
	authorizer domain.Authorizer,
	sink domain.Sink,
	clock clockwork.Clock,
	generateID domain.IDGenerator,
) *Protocol {
	return &Protocol{
		registry:    registry,
		limiter:     limiter,
		broadcaster: broadcaster,
		verifier:    verifier,
		authorizer:  authorizer,
		sink:        sink,
		clock:       clock,
		generateID:  generateID,
	}
}

// Connect registers a new session and sends the welcome envelope. bind is
// invoked with the generated session id after registration but before the
// welcome is sent, so the transport can route replies for this session.
func (p *Protocol) Connect(ctx context.Context, bind func(sessionID string)) (string, error) {
	id := p.generateID()
	now := p.clock.Now()

	if err := p.registry.Add(id, now); err != nil {
		return "", err
	}
	if bind != nil {
		bind(id)
	}

	p.reply(ctx, id, domain.Welcome(id, now))
	slog.InfoContext(ctx, "New session connected", "session_id", id)
	return id, nil
}

// Disconnect removes the session and all its channel memberships. Idempotent.
func (p *Protocol) Disconnect(ctx context.Context, sessionID string) {
	if p.registry.Remove(sessionID) {
		slog.InfoContext(ctx, "Session disconnected", "session_id", sessionID)
	}
}

// HandleEnvelope processes one inbound envelope for the given session.
// Envelopes for unknown sessions are dropped: absence means the session is
// already disconnected.
func (p *Protocol) HandleEnvelope(ctx context.Context, sessionID string, env domain.Envelope) {
	snap, exists := p.registry.Get(sessionID)
	if !exists {
		return
	}

	p.registry.Touch(sessionID, p.clock.Now())
	metrics.MessagesReceivedTotal.WithLabelValues(receivedLabel(env.Type)).Inc()

	if !p.limiter.Allow(sessionID) {
		p.replyError(ctx, sessionID, domain.CodeRateLimitExceeded, "Too many requests")
		return
	}

	switch env.Type {
	case domain.TypeAuthenticate:
		p.handleAuthenticate(ctx, sessionID, env)
	case domain.TypeSubscribe:
		p.handleSubscribe(ctx, sessionID, snap, env)
	case domain.TypeUnsubscribe:
		p.handleUnsubscribe(ctx, sessionID, env)
	case domain.TypeMessage:
		p.handleMessage(ctx, sessionID, snap, env)
	case domain.TypeBroadcast:
		p.handleBroadcast(ctx, sessionID, snap, env)
	case domain.TypePing:
		p.reply(ctx, sessionID, domain.Pong(p.clock.Now()))
	default:
		p.replyError(ctx, sessionID, domain.CodeUnknownMessageType, "Unknown message type: "+string(env.Type))
	}
}

// MalformedPayload reports an inbound frame that could not be decoded into an
// envelope. Counts against the rate limit like any other message.
// inboundTypes is the fixed label set for the received-messages metric.
// Unrecognized types collapse into one "unknown" series; client input never
// names a series directly.
var inboundTypes = map[domain.MessageType]struct{}{
	domain.TypeAuthenticate: {},
	domain.TypeSubscribe:    {},
	domain.TypeUnsubscribe:  {},
	domain.TypeMessage:      {},
	domain.TypeBroadcast:    {},
	domain.TypePing:         {},
}

func receivedLabel(t domain.MessageType) string {
	if _, ok := inboundTypes[t]; ok {
		return string(t)
	}
	return "unknown"
}

func (p *Protocol) MalformedPayload(ctx context.Context, sessionID string) {
	if _, exists := p.registry.Get(sessionID); !exists {
		return
	}
	p.registry.Touch(sessionID, p.clock.Now())

	if !p.limiter.Allow(sessionID) {
		p.replyError(ctx, sessionID, domain.CodeRateLimitExceeded, "Too many requests")
		return
	}
	p.replyError(ctx, sessionID, domain.CodeProcessingError, "Failed to parse message")
}

func (p *Protocol) handleAuthenticate(ctx context.Context, sessionID string, env domain.Envelope) {
	if env.Token == "" {
		p.replyError(ctx, sessionID, domain.CodeInvalidToken, "Authentication token is required")
		return
	}

	userID, ok := p.verifier.Verify(env.Token)
	if !ok {
		p.replyError(ctx, sessionID, domain.CodeInvalidToken, "Credential verification failed")
		return
	}

	if !p.registry.Authenticate(sessionID, userID) {
		return
	}

	p.reply(ctx, sessionID, domain.Authenticated(userID, p.clock.Now()))
	slog.InfoContext(ctx, "Session authenticated", "session_id", sessionID, "user_id", userID)
}

func (p *Protocol) handleSubscribe(ctx context.Context, sessionID string, snap session.Snapshot, env domain.Envelope) {
	if !snap.Authenticated {
		p.replyError(ctx, sessionID, domain.CodeNotAuthenticated, "Authentication required")
		return
	}
	if env.Channel == "" {
		p.replyError(ctx, sessionID, domain.CodeInvalidChannel, "Channel name is required")
		return
	}
	if !p.authorizer.AuthorizedForChannel(snap.UserID, env.Channel) {
		p.replyError(ctx, sessionID, domain.CodeAccessDenied, "No access to channel: "+env.Channel)
		return
	}

	p.registry.Subscribe(sessionID, env.Channel)
	p.reply(ctx, sessionID, domain.Subscribed(env.Channel, p.clock.Now()))
	slog.DebugContext(ctx, "Session subscribed", "session_id", sessionID, "channel", env.Channel)
}

func (p *Protocol) handleUnsubscribe(ctx context.Context, sessionID string, env domain.Envelope) {
	if env.Channel == "" {
		p.replyError(ctx, sessionID, domain.CodeInvalidChannel, "Channel name is required")
		return
	}

	p.registry.Unsubscribe(sessionID, env.Channel)
	p.reply(ctx, sessionID, domain.Unsubscribed(env.Channel, p.clock.Now()))
	slog.DebugContext(ctx, "Session unsubscribed", "session_id", sessionID, "channel", env.Channel)
}

func (p *Protocol) handleMessage(ctx context.Context, sessionID string, snap session.Snapshot, env domain.Envelope) {
	if !snap.Authenticated {
		p.replyError(ctx, sessionID, domain.CodeNotAuthenticated, "Authentication required")
		return
	}
	if env.Channel == "" {
		p.replyError(ctx, sessionID, domain.CodeInvalidChannel, "Channel is required")
		return
	}
	if !p.registry.IsSubscribed(sessionID, env.Channel) {
		p.replyError(ctx, sessionID, domain.CodeNotSubscribed, "Not subscribed to channel: "+env.Channel)
		return
	}

	relay := domain.ChannelMessage(env.Channel, snap.UserID, env.Data, p.clock.Now())
	if err := p.broadcaster.Enqueue(env.Channel, relay); err != nil {
		p.replyError(ctx, sessionID, domain.CodeProcessingError, "Server is shutting down")
	}
}

func (p *Protocol) handleBroadcast(ctx context.Context, sessionID string, snap session.Snapshot, env domain.Envelope) {
	if !snap.Authenticated {
		p.replyError(ctx, sessionID, domain.CodeNotAuthenticated, "Authentication required")
		return
	}
	if !p.authorizer.AuthorizedToBroadcast(snap.UserID) {
		p.replyError(ctx, sessionID, domain.CodeAccessDenied, "No broadcast permission")
		return
	}

	relay := domain.GlobalBroadcast(snap.UserID, env.Data, p.clock.Now())
	if err := p.broadcaster.EnqueueGlobal(relay); err != nil {
		p.replyError(ctx, sessionID, domain.CodeProcessingError, "Server is shutting down")
	}
}

func (p *Protocol) reply(ctx context.Context, sessionID string, env domain.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal reply", "session_id", sessionID, "type", env.Type, "error", err)
		return
	}
	if err := p.sink.Send(sessionID, payload); err != nil {
		slog.WarnContext(ctx, "Failed to send reply", "session_id", sessionID, "type", env.Type, "error", err)
	}
}

func (p *Protocol) replyError(ctx context.Context, sessionID string, code domain.ErrorCode, message string) {
	metrics.ProtocolErrorsTotal.WithLabelValues(string(code)).Inc()
	p.reply(ctx, sessionID, domain.ErrorReply(code, message, p.clock.Now()))
}
