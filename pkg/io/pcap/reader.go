// Package pcap turns packets of a capture file into a dataset, one row per
// packet, so that suspicious packets can be ranked and reviewed.
package pcap

import (
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	dataio "github.com/hed1ad/activeguard/pkg/io"
)

// Reader reads packets from a PCAP file.
type Reader struct {
	handle    *pcap.Handle
	extractor *FeatureExtractor
}

var _ dataio.Reader = (*Reader)(nil)

// NewFileReader creates a reader for PCAP files.
func NewFileReader(filename string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, err
	}

	return &Reader{
		handle:    handle,
		extractor: NewFeatureExtractor(),
	}, nil
}

// Read returns every packet as a feature vector. The identity of a packet is
// its 1-based position in the capture.
func (r *Reader) Read() (*dataio.Dataset, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	ds := &dataio.Dataset{}
	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	var seq uint64
	for packet := range packetSource.Packets() {
		seq++
		features := r.extractor.Extract(packet)
		if features != nil {
			ds.IDs = append(ds.IDs, seq)
			ds.Features = append(ds.Features, features)
		}
	}

	return ds, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
	}
	return nil
}

// FeatureExtractor extracts numerical features from network packets.
type FeatureExtractor struct {
	lastTimestamp time.Time
}

var _ dataio.FeatureExtractor = (*FeatureExtractor)(nil)

// NewFeatureExtractor creates a new packet feature extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract converts a packet to a feature vector.
// Features: [packet_size, inter_arrival_time, protocol, src_port, dst_port,
//            tcp_flags, ip_ttl, payload_size]
func (e *FeatureExtractor) Extract(packet gopacket.Packet) []float64 {
	features := make([]float64, 8)

	// Packet size
	features[0] = float64(len(packet.Data()))

	// Inter-arrival time
	metadata := packet.Metadata()
	if metadata != nil && !metadata.Timestamp.IsZero() {
		if !e.lastTimestamp.IsZero() {
			features[1] = metadata.Timestamp.Sub(e.lastTimestamp).Seconds()
		}
		e.lastTimestamp = metadata.Timestamp
	}

	// Protocol
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		features[2] = 6 // TCP
		tcp := tcpLayer.(*layers.TCP)
		features[3] = float64(tcp.SrcPort)
		features[4] = float64(tcp.DstPort)
		features[5] = encodeTCPFlags(tcp)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		features[2] = 17 // UDP
		udp := udpLayer.(*layers.UDP)
		features[3] = float64(udp.SrcPort)
		features[4] = float64(udp.DstPort)
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil {
		features[2] = 1 // ICMP
	}

	// IP TTL
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip := ipLayer.(*layers.IPv4)
		features[6] = float64(ip.TTL)
	}

	// Payload size
	if appLayer := packet.ApplicationLayer(); appLayer != nil {
		features[7] = float64(len(appLayer.Payload()))
	}

	return features
}

// FeatureNames returns the names of extracted features.
func (e *FeatureExtractor) FeatureNames() []string {
	return []string{
		"packet_size",
		"inter_arrival_time",
		"protocol",
		"src_port",
		"dst_port",
		"tcp_flags",
		"ip_ttl",
		"payload_size",
	}
}

// encodeTCPFlags converts TCP flags to a numeric value.
func encodeTCPFlags(tcp *layers.TCP) float64 {
	var flags float64
	if tcp.SYN {
		flags += 1
	}
	if tcp.ACK {
		flags += 2
	}
	if tcp.FIN {
		flags += 4
	}
	if tcp.RST {
		flags += 8
	}
	if tcp.PSH {
		flags += 16
	}
	if tcp.URG {
		flags += 32
	}
	return flags
}
