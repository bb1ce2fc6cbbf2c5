package hottune

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/restreamer-go/restreamer/internal/state"
)

func TestTuneSendsExpectedCommandAndToleratesReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	track := uuid.New()
	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
		_, _ = conn.Write([]byte("0 Success\n"))
	}()

	Tune(nil, uint16(port), track, state.Volume{Level: 150})

	select {
	case line := <-received:
		want := "volume@" + track.String() + " volume 1.50\n"
		if line != want {
			t.Fatalf("got command %q, want %q", line, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a command")
	}
}

func TestTuneDoesNotPanicWhenNothingListening(t *testing.T) {
	// Port 1 is privileged/unused in test environments; dialing it should
	// fail fast and Tune must simply log, never panic.
	Tune(nil, 1, uuid.New(), state.Volume{})
	_ = strconv.Itoa(1)
}
