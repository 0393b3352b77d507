package domain

// IDGenerator produces opaque, unique session identifiers. Injected so tests
// can use deterministic IDs and the transport never leaks its own handles.
type IDGenerator func() string

// CredentialVerifier validates an opaque credential string and resolves the
// user identity behind it. Implementations live outside the core protocol.
type CredentialVerifier interface {
	Verify(token string) (userID string, ok bool)
}

// Authorizer answers channel and broadcast permission questions for a
// verified user.
type Authorizer interface {
	AuthorizedForChannel(userID, channel string) bool
	AuthorizedToBroadcast(userID string) bool
}

// Sink delivers an encoded payload to a single live session. The transport
// adapter owns the implementation; a returned error means this one recipient
// could not be reached and must never abort delivery to others.
type Sink interface {
	Send(sessionID string, payload []byte) error
}
