package process

import (
	"fmt"
	"os"
	"syscall"

	"github.com/google/uuid"
)

// FifoPath returns the named-pipe path a voice-chat mixin is read from; it
// must match descriptor.fifoPath exactly since the ffmpeg argv and the pipe
// creation are derived independently from the same mixin ID.
func FifoPath(mixinID uuid.UUID) string {
	return fmt.Sprintf("/tmp/restreamer-mixin-%s.fifo", mixinID)
}

// EnsureFifo creates the named pipe at FifoPath(mixinID) if it does not
// already exist. It is idempotent: an existing FIFO is left untouched so a
// reader already attached to it is not disturbed across a volume-only
// descriptor update.
func EnsureFifo(mixinID uuid.UUID) error {
	path := FifoPath(mixinID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat fifo %s: %w", path, err)
	}
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// RemoveFifo deletes the named pipe once nothing references the mixin
// anymore (e.g. it was removed from the output, or the whole restream was
// torn down). A missing file is not an error.
func RemoveFifo(mixinID uuid.UUID) error {
	if err := os.Remove(FifoPath(mixinID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove fifo %s: %w", mixinID, err)
	}
	return nil
}
