package domain

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of envelope exchanged with a client.
type MessageType string

// Inbound message types.
const (
	TypeAuthenticate MessageType = "authenticate"
	TypeSubscribe    MessageType = "subscribe"
	TypeUnsubscribe  MessageType = "unsubscribe"
	TypeMessage      MessageType = "message"
	TypeBroadcast    MessageType = "broadcast"
	TypePing         MessageType = "ping"
)

// Outbound message types.
const (
	TypeWelcome       MessageType = "welcome"
	TypeAuthenticated MessageType = "authenticated"
	TypeSubscribed    MessageType = "subscribed"
	TypeUnsubscribed  MessageType = "unsubscribed"
	TypePong          MessageType = "pong"
	TypeError         MessageType = "error"
)

// Envelope is a single structured message unit. The same shape covers inbound
// client messages and outbound server responses; optional fields are omitted
// when empty. Envelopes handed to the broadcaster are treated as immutable.
type Envelope struct {
	Type         MessageType     `json:"type"`
	Channel      string          `json:"channel,omitempty"`
	Token        string          `json:"token,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	Error        *ErrorDetail    `json:"error,omitempty"`
}

// --- Outbound envelope constructors ---

func Welcome(connectionID string, now time.Time) Envelope {
	return Envelope{Type: TypeWelcome, ConnectionID: connectionID, Timestamp: now.UnixMilli()}
}

func Authenticated(userID string, now time.Time) Envelope {
	return Envelope{Type: TypeAuthenticated, UserID: userID, Timestamp: now.UnixMilli()}
}

func Subscribed(channel string, now time.Time) Envelope {
	return Envelope{Type: TypeSubscribed, Channel: channel, Timestamp: now.UnixMilli()}
}

func Unsubscribed(channel string, now time.Time) Envelope {
	return Envelope{Type: TypeUnsubscribed, Channel: channel, Timestamp: now.UnixMilli()}
}

func Pong(now time.Time) Envelope {
	return Envelope{Type: TypePong, Timestamp: now.UnixMilli()}
}

// ChannelMessage builds the relayed form of a client channel message, stamped
// with the sender identity and the server timestamp.
func ChannelMessage(channel, userID string, data json.RawMessage, now time.Time) Envelope {
	return Envelope{Type: TypeMessage, Channel: channel, UserID: userID, Data: data, Timestamp: now.UnixMilli()}
}

// GlobalBroadcast builds the relayed form of a server-wide broadcast.
func GlobalBroadcast(userID string, data json.RawMessage, now time.Time) Envelope {
	return Envelope{Type: TypeBroadcast, UserID: userID, Data: data, Timestamp: now.UnixMilli()}
}

func ErrorReply(code ErrorCode, message string, now time.Time) Envelope {
	return Envelope{
		Type:      TypeError,
		Error:     &ErrorDetail{Code: code, Message: message},
		Timestamp: now.UnixMilli(),
	}
}
