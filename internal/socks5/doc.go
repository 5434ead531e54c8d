// Package socks5 implements the subset of RFC 1928 this proxy speaks: no-auth
// method negotiation and the CONNECT command, on both the server side (toward
// connecting clients) and the client side (toward an upstream SOCKS5 proxy,
// typically the local end of an SSH tunnel).
//
// The wire contract is deliberately narrow. Replies always carry an all-zero
// IPv4 bound address, and upstream CONNECT requests always use domain-name
// addressing even when the destination is an IP literal, so the upstream does
// its own resolution. Protocol constants are shared with
// github.com/txthinking/socks5 rather than redeclared.
package socks5
