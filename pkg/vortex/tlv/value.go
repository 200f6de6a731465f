package tlv

import "github.com/m-mizutani/goerr/v2"

// ErrInvalidValue is returned when a value field can not be decoded for its tag
var ErrInvalidValue = goerr.New("invalid value")

// Value is the decoded value field of a Vortex packet
type Value interface {
	Tag() Tag
	MarshalBinary() ([]byte, error)
}

// Decode decodes raw value bytes according to the tag
func Decode(tag Tag, b []byte) (Value, error) {
	switch tag {
	case TagDownloadPiece:
		return ParseDownloadPiece(b)
	case TagPieceContent:
		return NewPieceContent(b), nil
	case TagError:
		return ParseError(b)
	default:
		return NewReserved(tag, b), nil
	}
}

// Reserved holds the opaque value of a packet with a reserved tag
type Reserved struct {
	tag  Tag
	data []byte
}

// NewReserved creates a Reserved value. The data is copied.
func NewReserved(tag Tag, data []byte) *Reserved {
	return &Reserved{tag: tag, data: append([]byte(nil), data...)}
}

func (x *Reserved) Tag() Tag { return x.tag }

// Data returns the opaque payload
func (x *Reserved) Data() []byte { return x.data }

func (x *Reserved) MarshalBinary() ([]byte, error) {
	return append([]byte(nil), x.data...), nil
}
