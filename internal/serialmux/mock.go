package serialmux

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/sensorfusion/internal/timeutil"
)

// MockSerialPort replays a fixed set of lines as if a sensor bridge were
// attached. Lines are delivered in order, interval apart on clock, and the
// port reports EOF after the last one. Commands written to the port are
// recorded.
type MockSerialPort struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	done    chan struct{}
	once    sync.Once
}

// NewMockSerialPort starts replaying lines. A nil clock uses the real clock.
func NewMockSerialPort(lines []string, interval time.Duration, clock timeutil.Clock) *MockSerialPort {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	pr, pw := io.Pipe()
	m := &MockSerialPort{pr: pr, pw: pw, done: make(chan struct{})}
	go m.replay(lines, interval, clock)
	return m
}

func (m *MockSerialPort) replay(lines []string, interval time.Duration, clock timeutil.Clock) {
	defer m.pw.Close()
	for i, line := range lines {
		if i > 0 && interval > 0 {
			clock.Sleep(interval)
		}
		select {
		case <-m.done:
			return
		default:
		}
		if _, err := io.WriteString(m.pw, strings.TrimRight(line, "\r\n")+"\n"); err != nil {
			return
		}
	}
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	return m.pr.Read(p)
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
		return 0, io.ErrClosedPipe
	default:
	}
	return m.written.Write(p)
}

// Close stops the replay. Pending reads return io.ErrClosedPipe.
func (m *MockSerialPort) Close() error {
	m.once.Do(func() {
		close(m.done)
		m.pr.Close()
	})
	return nil
}

// Written returns everything written to the port so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

// NewMockSerialMux returns a SerialMux over a MockSerialPort replaying lines
// interval apart in real time.
func NewMockSerialMux(lines []string, interval time.Duration) *SerialMux[*MockSerialPort] {
	return NewSerialMux(NewMockSerialPort(lines, interval, nil))
}
