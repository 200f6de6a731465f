package tlv

// PieceContent carries the raw bytes of a piece
type PieceContent struct {
	content []byte
}

// NewPieceContent wraps content without copying it
func NewPieceContent(content []byte) *PieceContent {
	return &PieceContent{content: content}
}

func (x *PieceContent) Tag() Tag { return TagPieceContent }

// Content returns the piece bytes
func (x *PieceContent) Content() []byte { return x.content }

func (x *PieceContent) MarshalBinary() ([]byte, error) {
	return x.content, nil
}
