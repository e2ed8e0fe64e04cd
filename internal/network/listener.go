// Package network receives event lines over UDP, live or replayed from a
// packet capture. Each datagram may carry several newline-separated lines.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/stopline/internal/monitoring"
)

// LineHandler consumes one event line. serialmux.HandleEvent bound to a
// dispatcher is the usual implementation.
type LineHandler func(ctx context.Context, line string) error

// PacketStats counts datagrams and lines.
type PacketStats struct {
	Packets atomic.Uint64
	Bytes   atomic.Uint64
	Lines   atomic.Uint64
	Dropped atomic.Uint64
}

// LogStats writes the counters through the monitoring logger.
func (s *PacketStats) LogStats(source string) {
	monitoring.Logf("[network] %s: packets=%d bytes=%d lines=%d dropped=%d",
		source, s.Packets.Load(), s.Bytes.Load(), s.Lines.Load(), s.Dropped.Load())
}

// handlePayload splits payload into lines and hands each to handler.
// Lines that fail are counted as dropped.
func handlePayload(ctx context.Context, payload []byte, handler LineHandler, stats *PacketStats, errLog *monitoring.Throttle) error {
	stats.Packets.Add(1)
	stats.Bytes.Add(uint64(len(payload)))
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		stats.Lines.Add(1)
		if err := handler(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Dropped.Add(1)
			errLog.Logf("[network] dropped line: %v", err)
		}
	}
	return nil
}

// UDPListenerConfig contains configuration options for the UDP listener
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Handler     LineHandler
}

// UDPListener receives event datagrams.
type UDPListener struct {
	config UDPListenerConfig
	conn   *net.UDPConn
	stats  PacketStats
	errLog monitoring.Throttle
}

// NewUDPListener creates a new UDP listener with the provided configuration
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	if config.LogInterval == 0 {
		config.LogInterval = time.Minute
	}
	return &UDPListener{config: config, errLog: monitoring.Throttle{Every: 100}}
}

// Listen binds the socket and returns its address.
func (l *UDPListener) Listen() (net.Addr, error) {
	addr, err := net.ResolveUDPAddr("udp", l.config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if l.config.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.config.RcvBuf); err != nil {
			monitoring.Logf("[network] failed to set UDP receive buffer to %d: %v", l.config.RcvBuf, err)
		}
	}
	l.conn = conn
	monitoring.Logf("[network] UDP listener bound to %s", conn.LocalAddr())
	return conn.LocalAddr(), nil
}

// Serve reads datagrams until ctx is cancelled. Listen must be called first.
func (l *UDPListener) Serve(ctx context.Context) error {
	if l.conn == nil {
		return errors.New("udp listener not bound")
	}
	if l.config.Handler == nil {
		return errors.New("udp listener has no handler")
	}
	defer l.conn.Close()

	go l.logStats(ctx)

	buffer := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// a short deadline lets the loop observe cancellation
		l.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("[network] UDP read error: %v", err)
			continue
		}
		if err := handlePayload(ctx, buffer[:n], l.config.Handler, &l.stats, &l.errLog); err != nil {
			return err
		}
	}
}

// Start binds and serves until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	if _, err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Stats returns the listener counters.
func (l *UDPListener) Stats() *PacketStats {
	return &l.stats
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.config.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats("udp")
		}
	}
}
