package encode

import (
	"errors"

	"github.com/asticode/go-astifilter/pkg/astifilter"
)

// Vars
var (
	ErrOutOfMemory       = errors.New("encode: out of memory")
	ErrUnsupportedParams = errors.New("encode: unsupported params")
)

// Params represents the parameters an engine session is opened with
type Params struct {
	Channels    uint64
	CodecID     uint64
	Height      uint64
	Options     map[astifilter.PropertyKey]astifilter.Property
	PixelFormat string
	SampleRate  uint64
	StreamType  uint64
	Timescale   uint64
	Width       uint64
}

// Frame represents an uncompressed frame submitted to an engine session
type Frame struct {
	Data []byte
	PTS  int64
}

// CodedUnit represents a compressed unit produced by an engine session
type CodedUnit struct {
	CTS      int64
	Data     []byte
	DTS      int64
	Duration int64
	Sync     bool
}

// Engine represents an object capable of opening encoding sessions
//
// Open should return ErrUnsupportedParams when the params can't be encoded and
// ErrOutOfMemory when the backend can't allocate the session.
type Engine interface {
	Open(p Params) (Session, error)
}

// Session represents an opened encoding session
//
// SubmitInput submits one frame and returns at most one coded unit. The frame's
// data is only valid for the duration of the call: a session buffering input
// must copy it before returning. A nil frame flushes the session: calling
// SubmitInput(nil) repeatedly drains buffered units until it returns a nil
// unit. FrameSize returns the number of bytes one audio frame must contain, or
// 0 when the session accepts arbitrary sizes.
type Session interface {
	Close()
	FrameSize() int
	SubmitInput(f *Frame) (*CodedUnit, error)
}
