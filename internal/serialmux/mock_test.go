package serialmux

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/sensorfusion/internal/timeutil"
)

func TestMockSerialPort_Replay(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	port := NewMockSerialPort([]string{"L 1 2 100", "R 5 0 0 200\r\n", "# end"}, 50*time.Millisecond, clock)

	data, err := io.ReadAll(port)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got, want := string(data), "L 1 2 100\nR 5 0 0 200\n# end\n"; got != want {
		t.Errorf("replayed %q, want %q", got, want)
	}

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 50*time.Millisecond || sleeps[1] != 50*time.Millisecond {
		t.Errorf("sleeps = %v", sleeps)
	}
}

func TestMockSerialPort_WriteAndClose(t *testing.T) {
	t.Parallel()
	port := NewMockSerialPort(nil, 0, nil)

	if _, err := port.Write([]byte("STREAM ON\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if port.Written() != "STREAM ON\n" {
		t.Errorf("Written() = %q", port.Written())
	}

	if err := port.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := port.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := port.Write([]byte("X")); err != io.ErrClosedPipe {
		t.Errorf("Write after Close = %v, want io.ErrClosedPipe", err)
	}
	if _, err := port.Read(make([]byte, 8)); err != io.ErrClosedPipe {
		t.Errorf("Read after Close = %v, want io.ErrClosedPipe", err)
	}
}

func TestNewMockSerialMux_Monitor(t *testing.T) {
	t.Parallel()
	mux := NewMockSerialMux([]string{"L 1 2 100", "L 1.1 2 200"}, 0)
	defer mux.Close()
	_, ch := mux.Subscribe()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	var got []string
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	if strings.Join(got, "|") != "L 1 2 100|L 1.1 2 200" {
		t.Errorf("got %q", got)
	}
}
