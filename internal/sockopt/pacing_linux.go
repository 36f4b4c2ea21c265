//go:build linux

// Package sockopt applies the platform socket options the configuration
// surface exposes (peak-kbps's SO_MAX_PACING_RATE), so the dialer has one
// place to ask for them instead of reaching into net.Conn internals itself.
package sockopt

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// SetMaxPacingRate caps conn's underlying socket to kbps kilobits/second
// via SO_MAX_PACING_RATE (Linux 4.20+). kbps <= 0 is a no-op: no cap was
// requested.
func SetMaxPacingRate(conn net.Conn, kbps int) error {
	if kbps <= 0 {
		return nil
	}
	sc, ok := conn.(syscallConner)
	if !ok {
		return fmt.Errorf("sockopt: %T does not expose a raw socket", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("sockopt: raw conn: %w", err)
	}

	ratebps := uint64(kbps) * 1000 / 8
	var sockErr error
	if ctlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptUint64(int(fd), unix.SOL_SOCKET, unix.SO_MAX_PACING_RATE, ratebps)
	}); ctlErr != nil {
		return fmt.Errorf("sockopt: control: %w", ctlErr)
	}
	if sockErr != nil {
		return fmt.Errorf("sockopt: SO_MAX_PACING_RATE: %w", sockErr)
	}
	return nil
}
