// Package dialer provides the outbound connection paths: direct TCP with
// resolve-and-try-all-candidates, chaining through an upstream SOCKS5 proxy,
// and tunneling through an SSH server's direct-tcpip channels.
//
// Exactly one Dialer is constructed at startup from configuration; the proxy
// servers use it for every accepted connection.
package dialer
