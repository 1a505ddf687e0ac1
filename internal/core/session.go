package core

// SessionID identifies a client across requests; it is the client token
// cookie value.
type SessionID string
