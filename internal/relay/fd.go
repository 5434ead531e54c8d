package relay

import (
	"fmt"
	"net"
	"os"
)

// ConnPair adopts two connected socket file descriptors handed over by a
// foreign caller. On success the returned conns own duplicated descriptors
// and the originals are closed; the caller must not touch them again. On
// error no descriptor ownership is taken beyond those already closed.
func ConnPair(fdA, fdB int) (net.Conn, net.Conn, error) {
	a, err := fdConn(fdA)
	if err != nil {
		return nil, nil, err
	}
	b, err := fdConn(fdB)
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

func fdConn(fd int) (net.Conn, error) {
	if fd < 0 {
		return nil, fmt.Errorf("relay: invalid fd %d", fd)
	}
	f := os.NewFile(uintptr(fd), "relay")
	defer f.Close()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("relay: adopt fd %d: %w", fd, err)
	}
	return conn, nil
}
