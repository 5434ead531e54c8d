package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/singleflight"
)

// SSHUpstreamDialer forwards outbound TCP connections through an SSH server,
// replacing the external "ssh -D" process with an in-process tunnel.
//
// A single SSH transport is established lazily and shared; each DialContext
// opens one direct-tcpip channel over it. If opening a channel fails at the
// transport level the client is discarded and reconnected once.
type SSHUpstreamDialer struct {
	addr      string
	sshConfig *ssh.ClientConfig
	direct    Dialer

	mu     sync.Mutex
	client *ssh.Client
	sf     singleflight.Group
}

func NewSSHUpstreamDialer(cfg Config, addr, user, pass string) (Dialer, error) {
	if user == "" {
		return nil, errors.New("ssh upstream: missing username")
	}

	var auth []ssh.AuthMethod
	if cfg.SSHKeyPath != "" {
		key, err := os.ReadFile(cfg.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("ssh upstream: read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("ssh upstream: parse key %s: %w", cfg.SSHKeyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if pass != "" {
		auth = append(auth, ssh.Password(pass))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh upstream: missing password or key")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // Explicitly opted into by an empty known_hosts path.
	if cfg.SSHKnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.SSHKnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("ssh upstream: known_hosts %s: %w", cfg.SSHKnownHostsPath, err)
		}
		hostKeyCallback = cb
	}

	return &SSHUpstreamDialer{
		addr: addr,
		sshConfig: &ssh.ClientConfig{
			User:            user,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.DialTimeout,
		},
		direct: NewDirectDialer(cfg),
	}, nil
}

func (d *SSHUpstreamDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh upstream dial %s %s: unsupported network", network, address)
	}

	client, err := d.getClient(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := client.DialContext(ctx, "tcp", address)
	if err == nil {
		return ch, nil
	}

	// An OpenChannelError means the transport is healthy but the destination
	// is unreachable; anything else suggests a dead transport, so reconnect
	// once and retry.
	var openErr *ssh.OpenChannelError
	if errors.As(err, &openErr) {
		return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err)
	}

	d.invalidate(client)
	if client, err = d.getClient(ctx); err != nil {
		return nil, err
	}
	if ch, err = client.DialContext(ctx, "tcp", address); err != nil {
		return nil, fmt.Errorf("ssh upstream dial %s: %w", address, err)
	}
	return ch, nil
}

func (d *SSHUpstreamDialer) getClient(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	c := d.client
	d.mu.Unlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := d.sf.Do("connect", func() (any, error) {
		conn, err := d.direct.DialContext(ctx, "tcp", d.addr)
		if err != nil {
			return nil, fmt.Errorf("ssh upstream connect %s: %w", d.addr, err)
		}

		sc, chans, reqs, err := ssh.NewClientConn(conn, d.addr, d.sshConfig)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("ssh upstream handshake %s: %w", d.addr, err)
		}

		client := ssh.NewClient(sc, chans, reqs)
		d.mu.Lock()
		d.client = client
		d.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ssh.Client), nil
}

func (d *SSHUpstreamDialer) invalidate(old *ssh.Client) {
	d.mu.Lock()
	if d.client == old {
		d.client = nil
	}
	d.mu.Unlock()
	_ = old.Close()
}
