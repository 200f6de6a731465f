package tlv

import (
	"bytes"
	"strconv"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
)

// Code classifies an Error value
type Code uint8

const (
	CodeUnknown         Code = 0
	CodeInvalidArgument Code = 1
	CodeNotFound        Code = 2
	CodeInternal        Code = 3
	CodeUnavailable     Code = 4
)

func (c Code) String() string {
	switch c {
	case CodeUnknown:
		return "unknown"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeNotFound:
		return "not_found"
	case CodeInternal:
		return "internal"
	case CodeUnavailable:
		return "unavailable"
	default:
		return "code(" + strconv.Itoa(int(c)) + ")"
	}
}

// Error reports a failure to the peer. Wire form is "{code}:{message}".
type Error struct {
	code    Code
	message string
}

// NewError creates an Error value
func NewError(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// ParseError decodes an Error value. The message may contain ':', so the
// value is split at the first separator.
func ParseError(b []byte) (*Error, error) {
	idx := bytes.IndexByte(b, ':')
	if idx < 0 {
		return nil, goerr.Wrap(ErrInvalidValue, "missing error code separator",
			goerr.V("tag", TagError))
	}

	code, err := strconv.ParseUint(string(b[:idx]), 10, 8)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidValue, "invalid error code",
			goerr.V("tag", TagError),
			goerr.V("code", string(b[:idx])),
			goerr.V("cause", err.Error()))
	}

	if !utf8.Valid(b[idx+1:]) {
		return nil, goerr.Wrap(ErrInvalidValue, "message is not valid UTF-8",
			goerr.V("tag", TagError), goerr.V("code", code))
	}

	return &Error{
		code:    Code(code),
		message: string(b[idx+1:]),
	}, nil
}

func (x *Error) Tag() Tag { return TagError }

// Code returns the error code
func (x *Error) Code() Code { return x.code }

// Message returns the human readable message
func (x *Error) Message() string { return x.message }

func (x *Error) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, len(x.message)+4)
	b = strconv.AppendUint(b, uint64(x.code), 10)
	b = append(b, ':')
	b = append(b, x.message...)
	return b, nil
}
