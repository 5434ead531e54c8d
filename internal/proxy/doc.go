// Package proxy implements the listener-side servers: the SOCKS5 front end
// and an HTTP CONNECT front end. Both share one outbound dialer, one relay
// engine, and one admission ceiling.
//
// A connection's life is strictly ordered: admission, handshake, dial, reply,
// relay. Shutdown is a graceful drain: the accept loop stops admitting when
// its listener closes, while connections already in flight run to natural
// completion.
package proxy
