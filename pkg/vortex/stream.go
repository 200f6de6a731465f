package vortex

import (
	"bytes"
	"errors"
	"io"

	"github.com/m-mizutani/goerr/v2"
)

// Read reads exactly one packet from r. It returns io.EOF when r is at EOF
// before any header byte has been read. A truncated frame matches both
// ErrInvalidPacket and io.ErrUnexpectedEOF.
func Read(r io.Reader) (*Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, goerr.Wrap(truncated(), "truncated header")
		}
		return nil, goerr.Wrap(err, "failed to read header")
	}

	header := parseHeader(hdr[:])
	if header.Length > MaxValueSize {
		return nil, goerr.Wrap(ErrValueTooLarge, "declared length exceeds limit",
			goerr.V("packet_id", header.PacketID), goerr.V("length", header.Length))
	}

	// The buffer grows with the bytes received, not with the declared length
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, int64(header.Length))
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, goerr.Wrap(truncated(), "truncated value",
				goerr.V("packet_id", header.PacketID),
				goerr.V("declared", header.Length),
				goerr.V("received", n))
		}
		return nil, goerr.Wrap(err, "failed to read value")
	}

	return build(header, buf.Bytes())
}

func truncated() error {
	return errors.Join(ErrInvalidPacket, io.ErrUnexpectedEOF)
}

// Write writes p to w as a single frame
func Write(w io.Writer, p *Packet) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return goerr.Wrap(err, "failed to write packet",
			goerr.V("packet_id", p.ID()), goerr.V("tag", p.Tag()))
	}
	return nil
}
