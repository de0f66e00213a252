package session

import (
	"errors"
	"time"
)

// ErrTicketExpired is returned by Ticket.Validate once creation+lifetime
// has passed (§3's session-ticket invariant).
var ErrTicketExpired = errors.New("session: ticket expired")

// Ticket is the exportable 0-RTT resumption ticket (§4.2's "0-RTT"). The
// Opaque field is the server-sealed blob the client presents back
// unmodified on a future ClientHello to resume (only the issuing server
// can decrypt it); TrafficKey is the client's own plaintext copy of the
// session's traffic key, kept so the client can rebuild ciphers locally
// the moment the server confirms resumption, without the server ever
// needing to echo key material back.
type Ticket struct {
	ID         [32]byte
	Opaque     []byte
	TrafficKey []byte
	CreatedAt  time.Time
	LifetimeS  uint32
}

// Validate reports ErrTicketExpired once now is past CreatedAt+LifetimeS.
func (t *Ticket) Validate(now time.Time) error {
	expiry := t.CreatedAt.Add(time.Duration(t.LifetimeS) * time.Second)
	if now.After(expiry) {
		return ErrTicketExpired
	}
	return nil
}
