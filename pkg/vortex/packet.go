// Package vortex implements the Vortex packet format, a TLV (Tag-Length-Value)
// framing for peer-to-peer piece transfer.
//
//	+---------------------+-------------+-----------------+------------------+
//	| Packet ID (8 bits)  | Tag (8 bits)| Length (32 bits)| Value (variable) |
//	+---------------------+-------------+-----------------+------------------+
//
// Length is big-endian and the value is at most MaxValueSize bytes.
package vortex

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/dragonflyoss/vortex/pkg/vortex/tlv"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// HeaderSize is the size of packet ID, tag and length
	HeaderSize = 6

	// MaxValueSize is the largest value a packet may carry (1 GiB)
	MaxValueSize = 1 << 30
)

var (
	// ErrInvalidPacket is returned for a malformed or truncated packet
	ErrInvalidPacket = goerr.New("invalid packet")
	// ErrInvalidLength is returned when the value size differs from the declared length
	ErrInvalidLength = goerr.New("invalid length")
	// ErrValueTooLarge is returned when the value exceeds MaxValueSize
	ErrValueTooLarge = goerr.New("value too large")
)

// Header is the fixed part of a packet
type Header struct {
	PacketID uint8
	Tag      tlv.Tag
	Length   uint32
}

// Packet is a single Vortex packet
type Packet struct {
	header Header
	value  tlv.Value
	raw    []byte
}

// NewPacket creates a packet with a random packet ID by decoding value
// according to tag.
func NewPacket(tag tlv.Tag, value []byte) (*Packet, error) {
	if len(value) > MaxValueSize {
		return nil, goerr.Wrap(ErrValueTooLarge, "failed to create packet",
			goerr.V("tag", tag), goerr.V("length", len(value)))
	}

	v, err := tlv.Decode(tag, value)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create packet", goerr.V("tag", tag))
	}

	return &Packet{
		header: Header{
			PacketID: randomID(),
			Tag:      tag,
			Length:   uint32(len(value)),
		},
		value: v,
		raw:   value,
	}, nil
}

// NewPacketWithID creates a packet carrying v under the given packet ID
func NewPacketWithID(id uint8, v tlv.Value) (*Packet, error) {
	raw, err := v.MarshalBinary()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal value", goerr.V("tag", v.Tag()))
	}
	if len(raw) > MaxValueSize {
		return nil, goerr.Wrap(ErrValueTooLarge, "failed to create packet",
			goerr.V("tag", v.Tag()), goerr.V("length", len(raw)))
	}

	return &Packet{
		header: Header{
			PacketID: id,
			Tag:      v.Tag(),
			Length:   uint32(len(raw)),
		},
		value: v,
		raw:   raw,
	}, nil
}

// Request creates a packet carrying v under a random packet ID
func Request(v tlv.Value) (*Packet, error) {
	return NewPacketWithID(randomID(), v)
}

// Parse decodes a complete packet from b
func Parse(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, goerr.Wrap(ErrInvalidPacket, "packet shorter than header",
			goerr.V("expected_min", HeaderSize), goerr.V("actual", len(b)))
	}

	header := parseHeader(b[:HeaderSize])
	if header.Length > MaxValueSize {
		return nil, goerr.Wrap(ErrValueTooLarge, "declared length exceeds limit",
			goerr.V("length", header.Length))
	}

	value := b[HeaderSize:]
	if uint64(len(value)) != uint64(header.Length) {
		return nil, goerr.Wrap(ErrInvalidLength, "value length mismatch",
			goerr.V("declared", header.Length), goerr.V("actual", len(value)))
	}

	return build(header, value)
}

func build(header Header, value []byte) (*Packet, error) {
	v, err := tlv.Decode(header.Tag, value)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode value",
			goerr.V("packet_id", header.PacketID), goerr.V("tag", header.Tag))
	}

	return &Packet{header: header, value: v, raw: value}, nil
}

func parseHeader(b []byte) Header {
	return Header{
		PacketID: b[0],
		Tag:      tlv.Tag(b[1]),
		Length:   binary.BigEndian.Uint32(b[2:HeaderSize]),
	}
}

// ID returns the packet identifier
func (p *Packet) ID() uint8 { return p.header.PacketID }

// Tag returns the tag of the value field
func (p *Packet) Tag() tlv.Tag { return p.header.Tag }

// Length returns the length of the value field
func (p *Packet) Length() int { return int(p.header.Length) }

// Header returns a copy of the packet header
func (p *Packet) Header() Header { return p.header }

// Value returns the decoded value. Callers switch on its concrete type:
// *tlv.DownloadPiece, *tlv.PieceContent, *tlv.Error or *tlv.Reserved.
func (p *Packet) Value() tlv.Value { return p.value }

// MarshalBinary encodes the packet into header followed by value
func (p *Packet) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize+len(p.raw))
	putHeader(b, p.header.PacketID, p.header.Tag, len(p.raw))
	copy(b[HeaderSize:], p.raw)
	return b, nil
}

func putHeader(b []byte, id uint8, tag tlv.Tag, length int) {
	b[0] = id
	b[1] = byte(tag)
	binary.BigEndian.PutUint32(b[2:HeaderSize], uint32(length))
}

func randomID() uint8 {
	return uint8(rand.UintN(256))
}
