package astifilter

import (
	"math"
	"sync/atomic"
)

// NoTimestamp marks an unset DTS/CTS/duration.
const NoTimestamp int64 = math.MinInt64

// SAP is a sync point strength level. Levels are ordered: a lower non-none
// level is a stronger random access point.
type SAP uint32

const (
	SAPNone SAP = iota
	SAP1
	SAP2
	SAP3
	SAP4
)

// Packet is one timestamped unit of media data moving between pins. It is
// created by exactly one producer and must be released exactly once, either
// by the consumer dequeuing it or by the runtime dropping it. Timestamps are
// expressed in the producing pin's declared timescale.
type Packet struct {
	CTS      int64
	Duration int64
	DTS      int64
	// FrameStart/FrameEnd frame a payload split across several packets.
	FrameEnd   bool
	FrameStart bool
	SAP        SAP

	data     []byte
	release  func()
	released uint32
}

// NewPacket creates a packet owning a copy of data.
func NewPacket(data []byte) *Packet {
	bs := make([]byte, len(data))
	copy(bs, data)
	return &Packet{
		CTS:        NoTimestamp,
		data:       bs,
		DTS:        NoTimestamp,
		Duration:   NoTimestamp,
		FrameEnd:   true,
		FrameStart: true,
	}
}

// NewPacketRef creates a packet referencing externally owned memory. release
// is invoked once when the packet is released.
func NewPacketRef(data []byte, release func()) *Packet {
	p := NewPacket(nil)
	p.data = data
	p.release = release
	return p
}

func (p *Packet) Data() []byte {
	if atomic.LoadUint32(&p.released) > 0 {
		return nil
	}
	return p.data
}

func (p *Packet) Size() int {
	return len(p.Data())
}

func (p *Packet) Released() bool {
	return atomic.LoadUint32(&p.released) > 0
}

// doRelease is invoked by the consuming pin. Releasing twice is a no-op so
// that drop-on-disconnect can't double free a reference callback.
func (p *Packet) doRelease() {
	if !atomic.CompareAndSwapUint32(&p.released, 0, 1) {
		return
	}
	if p.release != nil {
		p.release()
	}
	p.data = nil
}

// clone is used when an output pin feeds more than one input pin: every
// consumer gets its own releasable instance.
func (p *Packet) clone() *Packet {
	i := NewPacket(p.data)
	i.CTS = p.CTS
	i.DTS = p.DTS
	i.Duration = p.Duration
	i.FrameEnd = p.FrameEnd
	i.FrameStart = p.FrameStart
	i.SAP = p.SAP
	return i
}
