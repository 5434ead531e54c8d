// Package relay implements the bidirectional byte pump that carries a
// connection's data phase, plus the process-wide transfer statistics every
// relay reports into.
//
// An Engine takes exclusive ownership of a connected pair: whatever ends the
// relay (EOF, error, or idle timeout), both connections are closed exactly
// once and nothing else may touch them afterward. The engine is also the unit
// exported to foreign callers via the c-shared build in ./cshared.
package relay
