package proxy

import (
	"net"
	"time"

	"github.com/JoursBleu/ssh-tunnel/internal/dialer"
)

// DefaultMaxClients is the admission ceiling applied when Config.MaxClients
// is unset.
const DefaultMaxClients = 256

type Config struct {
	Dialer dialer.Dialer

	// NegotiationTimeout bounds the client-facing handshake. Zero leaves
	// the handshake unbounded.
	NegotiationTimeout time.Duration

	// IdleTimeout tears down relays with no traffic in either direction.
	IdleTimeout time.Duration

	// MaxClients caps concurrent connections; connections beyond it are
	// closed without any protocol bytes.
	MaxClients int

	KeepAlive net.KeepAliveConfig
}
