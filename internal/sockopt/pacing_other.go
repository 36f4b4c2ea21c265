//go:build !linux

package sockopt

import (
	"fmt"
	"net"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
)

// SetMaxPacingRate reports ErrNotSupported for any finite rate: this
// platform has no SO_MAX_PACING_RATE equivalent wired up here. kbps <= 0
// (no cap requested) is still a no-op.
func SetMaxPacingRate(conn net.Conn, kbps int) error {
	if kbps <= 0 {
		return nil
	}
	return fmt.Errorf("sockopt: peak-kbps requested on a platform without SO_MAX_PACING_RATE: %w", rtmperr.ErrNotSupported)
}
