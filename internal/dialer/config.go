package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds resolution plus TCP connect for one dial.
	DialTimeout time.Duration

	// NegotiationTimeout bounds the upstream SOCKS5 or SSH handshake.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// DNSServer is an optional host:port DNS server used instead of the
	// system resolver for direct connections.
	DNSServer string

	// SSHKeyPath points to an OpenSSH-format private key for ssh upstreams.
	SSHKeyPath string

	// SSHKnownHostsPath is the known_hosts file for ssh host key
	// verification. Empty disables verification.
	SSHKnownHostsPath string
}
