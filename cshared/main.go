// The cshared package builds the relay engine as a C shared library so a
// foreign orchestrator (e.g. a ctypes caller) can hand it pairs of connected
// socket descriptors:
//
//	go build -buildmode=c-shared -o tun_relay.so ./cshared
//
// The exported symbols and signatures match the original tun_relay ABI:
// relay_init, relay_cleanup, relay_start, relay_get_stats, relay_reset_stats.
package main

import "C"

import (
	"time"

	"github.com/JoursBleu/ssh-tunnel/internal/relay"
)

var stats = relay.NewStats()

// relay_init prepares the engine for use. The Go runtime initializes its own
// network poller, so this is a compatibility no-op that always succeeds.
//
//export relay_init
func relay_init() C.int {
	return 0
}

// relay_cleanup releases engine resources. Relays still in flight run to
// completion; there is nothing to tear down eagerly.
//
//export relay_cleanup
func relay_cleanup() {
}

// relay_start takes ownership of two connected socket descriptors and relays
// between them asynchronously until EOF, error, or timeoutSec of idleness
// (<= 0 selects the 300 s default). It returns 0 on success and -1 if either
// descriptor cannot be adopted, without blocking beyond validation.
//
//export relay_start
func relay_start(fdA, fdB, timeoutSec C.int) C.int {
	a, b, err := relay.ConnPair(int(fdA), int(fdB))
	if err != nil {
		return -1
	}

	e := relay.NewEngine(stats, time.Duration(timeoutSec)*time.Second)
	e.Start(a, b)
	return 0
}

// relay_get_stats writes the aggregate counters through the given pointers.
// Null pointers are skipped.
//
//export relay_get_stats
func relay_get_stats(bytesUp, bytesDown *C.longlong, active, total *C.int) {
	s := stats.Snapshot()
	if bytesUp != nil {
		*bytesUp = C.longlong(s.BytesUp)
	}
	if bytesDown != nil {
		*bytesDown = C.longlong(s.BytesDown)
	}
	if active != nil {
		*active = C.int(s.Active)
	}
	if total != nil {
		*total = C.int(s.Total)
	}
}

// relay_reset_stats zeroes the byte and total counters. The active count
// reflects live relays and is left alone.
//
//export relay_reset_stats
func relay_reset_stats() {
	stats.Reset()
}

func main() {}
