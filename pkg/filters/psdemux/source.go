package psdemux

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("psdemux: source not found")
	ErrUnsupportedFormat = errors.New("psdemux: unsupported format")
)

// Codec identifiers reported by the source.
const (
	CodecIDMPEG1Video uint64 = iota + 2
	CodecIDMPEG2Video
	CodecIDMPEG1Audio
	CodecIDAC3
	CodecIDLPCM
)

// StreamParams describes one elementary stream of an opened source.
type StreamParams struct {
	Bitrate    uint64
	Channels   uint64
	Codec      uint64 // 0 when unknown, the stream is then skipped
	FPS        float64
	Height     uint64
	SampleRate uint64
	SAR        uint64 // Aspect ratio packed as num<<16|den, 0 when unknown
	Width      uint64
}

// Unit is one demuxed access unit, timestamped in the requested timescale.
type Unit struct {
	Bytes []byte
	CTS   int64
	DTS   int64
	Sync  bool
}

// Source is the opaque demux collaborator: it owns the container bitstream
// parsing, which is no concern of the filter.
type Source interface {
	// Open returns ErrNotFound or ErrUnsupportedFormat on failure.
	Open(identity string) (Handle, error)
}

// Handle gives access to one opened source. All calls are synchronous.
type Handle interface {
	Close()
	Duration() time.Duration
	// FirstDTS is the smallest decode timestamp of the source, expressed in
	// the given timescale.
	FirstDTS(timescale uint64) int64
	// NextUnit returns false when the stream has no unit left.
	NextUnit(streamType uint64, index int, timescale uint64) (Unit, bool)
	Seek(streamType uint64, index int, to time.Duration)
	StreamCount(streamType uint64) int
	StreamParams(streamType uint64, index int) StreamParams
}
