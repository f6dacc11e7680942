package encode

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

// Name is the encoder's registry name.
const Name = "encode"

var countEncoder uint64

// Args is the encoder's declared configuration option table. Unknown names
// are forwarded to the engine as opening options.
func Args() []astifilter.Arg {
	return []astifilter.Arg{
		{Name: "c", Kind: astifilter.PropertyKindUint, Default: astifilter.UintProperty(0), Description: "target codec id"},
		{Name: "*", Wildcard: true, Description: "engine-specific options"},
	}
}

// Caps is the encoder's declared input capability bundle: uncompressed audio
// or video only.
func Caps() astifilter.Capabilities {
	return astifilter.Capabilities{
		{
			{
				In:     true,
				Key:    astifilter.PropertyKeyStreamType,
				Values: []astifilter.Property{astifilter.UintProperty(astifilter.StreamTypeAudio), astifilter.UintProperty(astifilter.StreamTypeVideo)},
			},
			{
				In:     true,
				Key:    astifilter.PropertyKeyCodecID,
				Values: []astifilter.Property{astifilter.UintProperty(astifilter.CodecIDRaw)},
			},
		},
	}
}

// Encoder is a one-to-one transformer: it submits uncompressed frames to an
// opaque engine session and forwards the coded units it gets back, aligning
// their timestamps on the input timeline.
type Encoder struct {
	audioBuf    []byte
	audioBufLen int
	bytesPerSmp uint64
	codec       uint64
	cs          *encoderCumulativeStats
	e           Engine
	es          Session
	f           *astifilter.Filter
	firstBufCTS int64
	firstPTS    int64
	firstPTSSet bool
	flushed     bool
	in          *astifilter.InputPin
	opts        map[astifilter.PropertyKey]astifilter.Property
	out         *astifilter.OutputPin
	sampleRate  uint64
	streamType  uint64
	timescale   uint64
	tsShift     int64
	tsShiftSet  bool
}

type encoderCumulativeStats struct {
	incomingBytes   uint64
	incomingPackets uint64
	outgoingBytes   uint64
	outgoingPackets uint64
}

var _ astifilter.Filterer = (*Encoder)(nil)

// NewEncoder creates a filterer around the opaque engine, meant to be handed
// to a session or a registry.
func NewEncoder(e Engine) *Encoder {
	return &Encoder{
		cs:   &encoderCumulativeStats{},
		e:    e,
		opts: make(map[astifilter.PropertyKey]astifilter.Property),
	}
}

// Register adds the encoder to the registry.
func Register(r *astifilter.Registry, e Engine) error {
	return r.Register(Name, func() astifilter.Filterer { return NewEncoder(e) })
}

type EncoderOptions struct {
	Engine   Engine
	Metadata astifilter.Metadata
	Session  *astifilter.Session
}

// New creates an encoder and its filter in one go.
func New(o EncoderOptions) (e *Encoder, err error) {
	// Create encoder
	e = NewEncoder(o.Engine)

	// Create filter
	if _, _, err = o.Session.NewFilter(astifilter.FilterOptions{
		Args:     Args(),
		Caps:     Caps(),
		Filterer: e,
		Metadata: (&astifilter.Metadata{
			Name: fmt.Sprintf("encode_%d", atomic.AddUint64(&countEncoder, uint64(1))),
			Tags: []string{"encoder"},
		}).Merge(o.Metadata),
	}); err != nil {
		err = fmt.Errorf("encode: creating filter failed: %w", err)
		return
	}
	return
}

func (e *Encoder) Filter() *astifilter.Filter {
	return e.f
}

func (e *Encoder) Initialize(f *astifilter.Filter) error {
	e.f = f
	return nil
}

func (e *Encoder) Finalize() {
	if e.es != nil {
		e.es.Close()
		e.es = nil
	}
}

func (e *Encoder) UpdateArg(name string, v astifilter.Property) error {
	switch name {
	case "c":
		e.codec, _ = v.Uint()
	default:
		// Engine option, handed over untouched at opening time
		e.opts[astifilter.PropertyKey(name)] = v
	}
	return nil
}

func (e *Encoder) ConfigurePin(p *astifilter.InputPin, isRemove bool) error {
	// Upstream disconnect: tear down the owned output pin and release all
	// per-source state, whatever the play state
	if isRemove {
		if e.in != p {
			return nil
		}
		e.in = nil
		if e.es != nil {
			e.es.Close()
			e.es = nil
		}
		if e.out != nil {
			e.out.Remove()
			e.out = nil
		}
		e.audioBuf = nil
		e.audioBufLen = 0
		e.firstPTSSet = false
		e.flushed = false
		e.tsShiftSet = false
		return nil
	}

	// One engine session per filter instance
	if e.in != nil && e.in != p {
		return astifilter.ErrRequiresNewInstance
	}

	// Check caps
	if m := e.f.CheckCaps(p); m.Result == astifilter.MatchResultNoMatch {
		return astifilter.ErrNotSupported
	}

	// No target codec
	if e.codec == 0 {
		return astifilter.ErrNotSupported
	}

	// Get required properties
	var ok bool
	pr := Params{CodecID: e.codec, Options: e.options()}
	if pr.StreamType, ok = uintProperty(p, astifilter.PropertyKeyStreamType); !ok {
		return astifilter.ErrNonCompliantInput
	}
	if pr.Timescale, ok = uintProperty(p, astifilter.PropertyKeyTimescale); !ok || pr.Timescale == 0 {
		return astifilter.ErrNonCompliantInput
	}
	switch pr.StreamType {
	case astifilter.StreamTypeVideo:
		if pr.Width, ok = uintProperty(p, astifilter.PropertyKeyWidth); !ok {
			return astifilter.ErrNonCompliantInput
		}
		if pr.Height, ok = uintProperty(p, astifilter.PropertyKeyHeight); !ok {
			return astifilter.ErrNonCompliantInput
		}
		if v, ok := p.Property(astifilter.PropertyKeyPixelFormat); ok {
			pr.PixelFormat, _ = v.Str()
		} else {
			return astifilter.ErrNonCompliantInput
		}
	case astifilter.StreamTypeAudio:
		if pr.SampleRate, ok = uintProperty(p, astifilter.PropertyKeySampleRate); !ok || pr.SampleRate == 0 {
			return astifilter.ErrNonCompliantInput
		}
		if pr.Channels, ok = uintProperty(p, astifilter.PropertyKeyChannels); !ok || pr.Channels == 0 {
			return astifilter.ErrNonCompliantInput
		}
	default:
		return astifilter.ErrNotSupported
	}

	// Open engine session. Reconfiguring replaces the previous session but
	// keeps the accumulation state, so that a stop/restart on the same
	// configuration resumes mid-frame.
	if e.es != nil {
		e.es.Close()
		e.es = nil
	}
	es, err := e.e.Open(pr)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedParams):
			err = fmt.Errorf("encode: opening engine session failed: %w: %s", astifilter.ErrNotSupported, err)
		case errors.Is(err, ErrOutOfMemory):
			err = fmt.Errorf("encode: opening engine session failed: %w: %s", astifilter.ErrResource, err)
		default:
			err = fmt.Errorf("encode: opening engine session failed: %w", err)
		}
		return err
	}
	e.es = es
	e.in = p
	e.flushed = false
	e.streamType = pr.StreamType
	e.timescale = pr.Timescale
	e.sampleRate = pr.SampleRate

	// Size the audio accumulation buffer
	if pr.StreamType == astifilter.StreamTypeAudio {
		e.bytesPerSmp = pr.Channels * audioFormatBytes(p)
		if fs := es.FrameSize(); fs > 0 && len(e.audioBuf) != fs {
			e.audioBuf = make([]byte, fs)
			e.audioBufLen = 0
		}
	}

	// Declare output pin. A reused pin may carry the previous stream's
	// end-of-stream, which must not leak into the new one
	reused := e.out != nil
	if e.out == nil {
		e.out = e.f.NewOutputPin()
	} else {
		e.out.ClearEOS()
	}
	e.out.SetProperty(astifilter.PropertyKeyStreamType, astifilter.UintProperty(pr.StreamType))
	e.out.SetProperty(astifilter.PropertyKeyCodecID, astifilter.UintProperty(e.codec))
	e.out.SetProperty(astifilter.PropertyKeyTimescale, astifilter.UintProperty(pr.Timescale))
	for _, k := range []astifilter.PropertyKey{
		astifilter.PropertyKeyChannels,
		astifilter.PropertyKeyClockID,
		astifilter.PropertyKeyDuration,
		astifilter.PropertyKeyFPS,
		astifilter.PropertyKeyHeight,
		astifilter.PropertyKeyID,
		astifilter.PropertyKeySampleRate,
		astifilter.PropertyKeySAR,
		astifilter.PropertyKeyWidth,
	} {
		if v, ok := p.Property(k); ok {
			e.out.SetProperty(k, v)
		} else {
			e.out.SetProperty(k, astifilter.Null)
		}
	}
	if reused {
		if err := e.out.Reconfigure(); err != nil {
			e.f.Logger().WarnC(e.f.Context(), fmt.Errorf("encode: reconfiguring pin failed: %w", err))
		}
	}
	return nil
}

func (e *Encoder) options() map[astifilter.PropertyKey]astifilter.Property {
	m := make(map[astifilter.PropertyKey]astifilter.Property, len(e.opts))
	for k, v := range e.opts {
		m[k] = v
	}
	return m
}

func (e *Encoder) ProcessEvent(ev astifilter.Event) bool {
	switch ev.Type {
	case astifilter.EventTypeSetSpeed:
		// Speed is a source concern, the engine paces itself on input
		return true
	}
	// Play and stop travel through to the source
	return false
}

func (e *Encoder) Process() error {
	// Not configured yet
	if e.in == nil || e.es == nil {
		return nil
	}

	// Backpressure: nothing is consumed while downstream is saturated
	if e.out.WouldBlock() {
		return nil
	}

	// Get packet
	pck := e.in.Packet()
	if pck == nil {
		// Upstream is done: drain one buffered unit per call
		if e.in.IsEOS() && !e.flushed {
			return e.drain()
		}
		return nil
	}

	// Increment stats
	atomic.AddUint64(&e.cs.incomingBytes, uint64(pck.Size()))
	atomic.AddUint64(&e.cs.incomingPackets, 1)

	// Submit
	var err error
	if e.streamType == astifilter.StreamTypeAudio && e.es.FrameSize() > 0 {
		err = e.processAudio(pck)
	} else {
		err = e.submit(&Frame{Data: pck.Data(), PTS: pck.CTS})
		e.in.DropPacket()
	}
	if err != nil {
		return fmt.Errorf("encode: submitting frame failed: %w: %s", astifilter.ErrTransientBackend, err)
	}
	return nil
}

// processAudio feeds the fixed-size accumulation buffer, submitting one frame
// each time it fills. The first byte's timestamp is carried so that frames
// spanning packet boundaries keep an exact timeline.
func (e *Encoder) processAudio(pck *astifilter.Packet) error {
	data := pck.Data()
	pos := 0
	for pos < len(data) {
		// An empty buffer restarts the frame timeline at the current byte
		if e.audioBufLen == 0 {
			smps := int64(uint64(pos) / e.bytesPerSmp)
			e.firstBufCTS = pck.CTS + astifilter.Rescale(smps, e.sampleRate, e.timescale)
		}

		// Fill buffer
		n := copy(e.audioBuf[e.audioBufLen:], data[pos:])
		e.audioBufLen += n
		pos += n

		// Submit full frames only
		if e.audioBufLen < len(e.audioBuf) {
			break
		}
		e.audioBufLen = 0
		if err := e.submit(&Frame{Data: e.audioBuf, PTS: e.firstBufCTS}); err != nil {
			e.in.DropPacket()
			return err
		}
	}
	e.in.DropPacket()
	return nil
}

func (e *Encoder) submit(f *Frame) error {
	if !e.firstPTSSet {
		e.firstPTS = f.PTS
		e.firstPTSSet = true
	}
	cu, err := e.es.SubmitInput(f)
	if err != nil {
		return err
	}
	if cu != nil {
		e.emit(cu)
	}
	return nil
}

func (e *Encoder) drain() error {
	cu, err := e.es.SubmitInput(nil)
	if err != nil {
		return fmt.Errorf("encode: flushing engine session failed: %w: %s", astifilter.ErrTransientBackend, err)
	}

	// Engine is empty
	if cu == nil {
		e.flushed = true
		e.out.SetEOS()
		return astifilter.ErrEOS
	}

	// Forward and come back for the next buffered unit
	e.emit(cu)
	e.f.Reschedule()
	return nil
}

// emit realigns the coded unit on the input timeline and sends it downstream.
// Engines are allowed to renumber timestamps: the offset between the first
// submitted pts and the first coded cts is captured once and applied to every
// subsequent unit.
func (e *Encoder) emit(cu *CodedUnit) {
	if !e.tsShiftSet {
		e.tsShift = e.firstPTS - cu.CTS
		e.tsShiftSet = true
		if e.streamType == astifilter.StreamTypeAudio && e.tsShift != 0 {
			// Priming samples, declared in the sample-rate domain
			e.out.SetProperty(astifilter.PropertyKeyAudioSkip, astifilter.IntProperty(astifilter.Rescale(e.tsShift, e.timescale, e.sampleRate)))
		}
	}

	// Create packet
	pkt := astifilter.NewPacket(cu.Data)
	pkt.CTS = cu.CTS + e.tsShift
	if cu.DTS != astifilter.NoTimestamp {
		pkt.DTS = cu.DTS + e.tsShift
	}
	pkt.Duration = cu.Duration
	if cu.Sync {
		pkt.SAP = astifilter.SAP1
	}

	// Increment stats
	atomic.AddUint64(&e.cs.outgoingBytes, uint64(pkt.Size()))
	atomic.AddUint64(&e.cs.outgoingPackets, 1)

	// Send packet
	e.out.Send(pkt)
}

func uintProperty(p *astifilter.InputPin, k astifilter.PropertyKey) (uint64, bool) {
	v, ok := p.Property(k)
	if !ok {
		return 0, false
	}
	return v.Uint()
}

// audioFormatBytes maps the declared sample format to its byte depth,
// defaulting to 16 bit pcm when the producer declared nothing.
func audioFormatBytes(p *astifilter.InputPin) uint64 {
	v, ok := p.Property(astifilter.PropertyKeyAudioFormat)
	if !ok {
		return 2
	}
	s, _ := v.Str()
	switch s {
	case "u8":
		return 1
	case "s32", "flt":
		return 4
	case "dbl":
		return 8
	default:
		return 2
	}
}

type EncoderCumulativeStats struct {
	IncomingBytes   uint64
	IncomingPackets uint64
	OutgoingBytes   uint64
	OutgoingPackets uint64
}

func (e *Encoder) CumulativeStats() EncoderCumulativeStats {
	return EncoderCumulativeStats{
		IncomingBytes:   atomic.LoadUint64(&e.cs.incomingBytes),
		IncomingPackets: atomic.LoadUint64(&e.cs.incomingPackets),
		OutgoingBytes:   atomic.LoadUint64(&e.cs.outgoingBytes),
		OutgoingPackets: atomic.LoadUint64(&e.cs.outgoingPackets),
	}
}

func (e *Encoder) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of packets coming in per second",
				Label:       "Incoming rate",
				Name:        astifilter.DeltaStatNameIncomingRate,
				Unit:        "pps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&e.cs.incomingPackets),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of packets going out per second",
				Label:       "Outgoing rate",
				Name:        astifilter.DeltaStatNameOutgoingRate,
				Unit:        "pps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&e.cs.outgoingPackets),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of bytes going out per second",
				Label:       "Outgoing byte rate",
				Name:        astifilter.DeltaStatNameOutgoingByteRate,
				Unit:        "Bps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&e.cs.outgoingBytes),
		},
	}
}
