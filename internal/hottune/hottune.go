// Package hottune sends fire-and-forget volume adjustments to a running
// Mix process's control socket, without requiring a restart.
package hottune

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/restreamer-go/restreamer/internal/state"
)

const dialTimeout = 2 * time.Second

// Tune sends a volume update for trackID to the Mix process listening on
// port. Failures are logged and otherwise ignored: a volume that doesn't
// land is re-applied on the process's next restart, since the descriptor
// caches it (see descriptor.NeedsRestart's volume-absorption behavior).
func Tune(log *slog.Logger, port uint16, trackID uuid.UUID, vol state.Volume) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		logf(log, "dial control socket", port, trackID, err)
		return
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	cmd := fmt.Sprintf("volume@%s volume %s\n", trackID, vol.DisplayAsFraction())
	if _, err := conn.Write([]byte(cmd)); err != nil {
		logf(log, "write control socket", port, trackID, err)
		return
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		logf(log, "read control socket reply", port, trackID, err)
		return
	}
	if reply != "0 Success\n" && reply != "0 Success" {
		if log != nil {
			log.Warn("hot-tune rejected", "port", port, "track", trackID, "reply", reply)
		}
	}
}

func logf(log *slog.Logger, action string, port uint16, trackID uuid.UUID, err error) {
	if log != nil {
		log.Warn(action+" failed", "port", port, "track", trackID, "error", err)
	}
}
