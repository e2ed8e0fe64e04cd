package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/stopline/internal/monitoring"
	"github.com/banshee-data/stopline/internal/timeutil"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReplayOptions controls how a capture is replayed.
type ReplayOptions struct {
	// UDPPort selects datagrams by destination port. Zero accepts any port.
	UDPPort int
	// Realtime paces delivery by the capture timestamps.
	Realtime bool
	// Speed scales realtime pacing; 2 replays twice as fast. Defaults to 1.
	Speed float64
	// Clock is used for realtime pacing; nil uses the wall clock.
	Clock timeutil.Clock
}

// pcapngMagic is the section header block type that starts a pcapng file.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// packetReader is satisfied by both pcapgo readers.
type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if bytes.Equal(head, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng: %w", err)
		}
		return ng, nil
	}
	rd, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap: %w", err)
	}
	return rd, nil
}

// ReadPCAPFile replays the UDP payloads of a pcap or pcapng file through
// handler. It returns nil at the end of the file.
func ReadPCAPFile(ctx context.Context, path string, handler LineHandler, opts ReplayOptions) (*PacketStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	stats, err := ReplayPCAP(ctx, f, handler, opts)
	if err != nil {
		return stats, err
	}
	stats.LogStats(path)
	return stats, nil
}

// ReplayPCAP is ReadPCAPFile over an open reader.
func ReplayPCAP(ctx context.Context, r io.Reader, handler LineHandler, opts ReplayOptions) (*PacketStats, error) {
	src, err := openCapture(r)
	if err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}

	stats := &PacketStats{}
	errLog := monitoring.Throttle{Every: 100}
	packets := gopacket.NewPacketSource(src, src.LinkType())
	packets.DecodeOptions = gopacket.DecodeOptions{Lazy: true}

	var (
		firstCapture time.Time
		firstWall    time.Time
	)
	for {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		packet, err := packets.NextPacket()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			// truncated trailing records are common in live captures
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return stats, nil
			}
			errLog.Logf("[network] skipping unreadable packet: %v", err)
			continue
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if opts.UDPPort != 0 && int(udp.DstPort) != opts.UDPPort {
			continue
		}

		if opts.Realtime {
			ts := packet.Metadata().Timestamp
			if firstCapture.IsZero() {
				firstCapture, firstWall = ts, clock.Now()
			} else {
				due := firstWall.Add(time.Duration(float64(ts.Sub(firstCapture)) / speed))
				if err := sleepUntil(ctx, clock, due); err != nil {
					return stats, err
				}
			}
		}

		if err := handlePayload(ctx, udp.Payload, handler, stats, &errLog); err != nil {
			return stats, err
		}
	}
}

// sleepUntil waits for clock to reach due. A ticker is used so mock clocks
// can drive it.
func sleepUntil(ctx context.Context, clock timeutil.Clock, due time.Time) error {
	wait := due.Sub(clock.Now())
	if wait <= 0 {
		return nil
	}
	ticker := clock.NewTicker(wait)
	defer ticker.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ticker.C():
		return nil
	}
}
