package serialmux

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/stopline/internal/monitoring"
	"github.com/banshee-data/stopline/internal/timeutil"
)

// MockSerialPort implements SerialPorter over an in-memory pipe. Lines
// written by the replay goroutine are read by Monitor; commands sent to the
// port are captured and can be inspected with Written.
type MockSerialPort struct {
	reader *io.PipeReader
	writer *io.PipeWriter
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
}

func newMockSerialPort() *MockSerialPort {
	r, w := io.Pipe()
	return &MockSerialPort{reader: r, writer: w, done: make(chan struct{})}
}

func (m *MockSerialPort) Read(p []byte) (int, error) { return m.reader.Read(p) }

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("serial port closed")
	}
	return m.written.Write(p)
}

// Written returns everything sent to the port so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.once.Do(func() { close(m.done) })
	m.writer.Close()
	return m.reader.Close()
}

// MockOptions controls fixture replay.
type MockOptions struct {
	// Interval between lines. Zero writes every line back to back.
	Interval time.Duration
	// Clock paces the replay; nil uses the wall clock.
	Clock timeutil.Clock
	// Repeat replays the fixture until the port is closed. Path lines are
	// only sent on the first pass so the association table survives.
	Repeat bool
}

// NewMockSerialMux creates a SerialMux that replays lines as if they arrived
// on a serial link. Without Repeat the port reports EOF after the last line.
func NewMockSerialMux(lines []string, opts MockOptions) *SerialMux[*MockSerialPort] {
	port := newMockSerialPort()
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	go func() {
		defer port.writer.Close()

		var tick <-chan time.Time
		if opts.Interval > 0 {
			ticker := clock.NewTicker(opts.Interval)
			defer ticker.Stop()
			tick = ticker.C()
		}

		for pass := 0; ; pass++ {
			sent := 0
			for _, line := range lines {
				if pass > 0 && ClassifyPayload(line) == EventTypePath {
					continue
				}
				if tick != nil {
					select {
					case <-tick:
					case <-port.done:
						return
					}
				}
				if _, err := io.WriteString(port.writer, line+"\n"); err != nil {
					return
				}
				sent++
			}
			if !opts.Repeat || sent == 0 {
				return
			}
		}
	}()

	return NewSerialMux(port)
}

// LoadFixture reads an event fixture file: one JSON event per line, blank
// lines and lines starting with '#' skipped.
func LoadFixture(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()

	var lines []string
	scan := bufio.NewScanner(f)
	scan.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	monitoring.Logf("[serialmux] loaded %d fixture lines from %s", len(lines), path)
	return lines, nil
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally blocking until data arrives.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, io.EOF
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 && t.ReadError == nil {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, io.EOF
		}
		if t.ReadError != nil {
			err := t.ReadError
			t.ReadError = nil
			return 0, err
		}
	}
	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	n, err = t.WriteBuffer.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailNextRead makes the next Read return err.
func (t *TestableSerialPort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}
