package tlv

import "strconv"

// Tag identifies the type of the value field of a Vortex packet
type Tag uint8

const (
	// TagDownloadPiece requests a piece of a task
	TagDownloadPiece Tag = 0
	// TagPieceContent carries the content of a piece
	TagPieceContent Tag = 1
	// TagError reports a failure to the peer
	TagError Tag = 255
)

// IsReserved reports whether the tag is in the reserved range 2..=254
func (t Tag) IsReserved() bool {
	return t != TagDownloadPiece && t != TagPieceContent && t != TagError
}

func (t Tag) String() string {
	switch t {
	case TagDownloadPiece:
		return "download_piece"
	case TagPieceContent:
		return "piece_content"
	case TagError:
		return "error"
	default:
		return "reserved(" + strconv.Itoa(int(t)) + ")"
	}
}
