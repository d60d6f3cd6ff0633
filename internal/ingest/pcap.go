package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/sensorfusion/internal/monitoring"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPStats summarises a capture replay.
type PCAPStats struct {
	Packets   int
	Datagrams int
	Records   int
	Malformed int
}

// ReadPCAP replays a capture file, parsing the payload of every UDP datagram
// sent to udpPort as text records. udpPort 0 accepts any port. Malformed
// lines are logged and skipped. fn is called for each record in capture
// order; a non-nil error from fn stops the replay.
func ReadPCAP(ctx context.Context, path string, udpPort int, fn func(Record) error) (PCAPStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCAPStats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		return PCAPStats{}, fmt.Errorf("failed to read PCAP header %s: %w", path, err)
	}
	return readPackets(ctx, r, r.LinkType(), udpPort, fn)
}

func readPackets(ctx context.Context, src gopacket.PacketDataSource, link layers.LinkType, udpPort int, fn func(Record) error) (PCAPStats, error) {
	var stats PCAPStats
	packetSource := gopacket.NewPacketSource(src, link)
	packetSource.NoCopy = true

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("PCAP reader stopping due to context cancellation (processed %d packets)", stats.Packets)
			return stats, err
		}
		packet, err := packetSource.NextPacket()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if err == io.ErrUnexpectedEOF {
				monitoring.Logf("PCAP capture truncated after %d packets", stats.Packets)
			}
			monitoring.Logf("PCAP replay complete: %d packets, %d records, %d malformed lines",
				stats.Packets, stats.Records, stats.Malformed)
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("reading PCAP packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			continue
		}
		if udpPort != 0 && int(udp.DstPort) != udpPort {
			continue
		}
		if len(udp.Payload) == 0 {
			continue
		}
		stats.Datagrams++

		if err := parsePayload(udp.Payload, &stats, fn); err != nil {
			return stats, err
		}
	}
}

// parsePayload parses every line in one datagram.
func parsePayload(payload []byte, stats *PCAPStats, fn func(Record) error) error {
	for i, line := range bytes.Split(payload, []byte{'\n'}) {
		rec, ok, err := ParseLine(string(line))
		if err != nil {
			stats.Malformed++
			monitoring.Logf("PCAP datagram %d line %d: %v", stats.Datagrams, i+1, err)
			continue
		}
		if !ok {
			continue
		}
		rec.Line = stats.Datagrams
		stats.Records++
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
