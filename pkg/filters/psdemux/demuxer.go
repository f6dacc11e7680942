package psdemux

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

// Name is the demuxer's registry name.
const Name = "psdemux"

const timescale = 90000

var countDemuxer uint64

// Args is the demuxer's declared configuration option table.
func Args() []astifilter.Arg {
	return []astifilter.Arg{
		{Name: "reframe", Kind: astifilter.PropertyKindBool, Default: astifilter.BoolProperty(false), Description: "force reparsing of referenced content"},
		{Name: "index_dur", Kind: astifilter.PropertyKindDouble, Default: astifilter.DoubleProperty(1.0), Description: "indexing window length"},
	}
}

// Caps is the demuxer's declared input capability bundles: a program stream
// mime type, or a known file extension.
func Caps() astifilter.Capabilities {
	return astifilter.Capabilities{
		{{
			In:     true,
			Key:    astifilter.PropertyKeyMIME,
			Values: []astifilter.Property{astifilter.StringProperty("video/mpeg"), astifilter.StringProperty("audio/mpeg")},
		}},
		{{
			In:     true,
			Key:    astifilter.PropertyKeyFileExt,
			Values: []astifilter.Property{astifilter.StringProperty("mpg"), astifilter.StringProperty("mpeg"), astifilter.StringProperty("vob")},
		}},
	}
}

// Demuxer is a one-to-many producer: one input pin carrying a source
// identity, N output pins discovered when the source is opened.
type Demuxer struct {
	cs       *demuxerCumulativeStats
	f        *astifilter.Filter
	firstDTS int64
	h        Handle
	identity string
	in       *astifilter.InputPin
	indexDur float64
	inSeek   bool
	playing  bool
	reframe  bool
	src      Source
	ss       []*demuxerStream
	start    float64
}

type demuxerStream struct {
	inUse      bool
	num        int
	p          *astifilter.OutputPin
	streamType uint64
}

type demuxerCumulativeStats struct {
	outgoingBytes   uint64
	outgoingPackets uint64
}

var _ astifilter.Filterer = (*Demuxer)(nil)

// NewDemuxer creates a filterer around the opaque source, meant to be handed
// to a session or a registry.
func NewDemuxer(src Source) *Demuxer {
	return &Demuxer{
		cs:  &demuxerCumulativeStats{},
		src: src,
	}
}

// Register adds the demuxer to the registry.
func Register(r *astifilter.Registry, src Source) error {
	return r.Register(Name, func() astifilter.Filterer { return NewDemuxer(src) })
}

type DemuxerOptions struct {
	Metadata astifilter.Metadata
	Session  *astifilter.Session
	Source   Source
}

// New creates a demuxer and its filter in one go.
func New(o DemuxerOptions) (d *Demuxer, err error) {
	// Create demuxer
	d = NewDemuxer(o.Source)

	// Create filter
	if _, _, err = o.Session.NewFilter(astifilter.FilterOptions{
		Args: Args(),
		Caps: Caps(),
		Filterer: d,
		Metadata: (&astifilter.Metadata{
			Name: fmt.Sprintf("psdemux_%d", atomic.AddUint64(&countDemuxer, uint64(1))),
			Tags: []string{"demuxer"},
		}).Merge(o.Metadata),
	}); err != nil {
		err = fmt.Errorf("psdemux: creating filter failed: %w", err)
		return
	}
	return
}

func (d *Demuxer) Filter() *astifilter.Filter {
	return d.f
}

func (d *Demuxer) Initialize(f *astifilter.Filter) error {
	d.f = f
	d.ss = []*demuxerStream{}
	return nil
}

func (d *Demuxer) Finalize() {
	d.ss = nil
	if d.h != nil {
		d.h.Close()
		d.h = nil
	}
}

func (d *Demuxer) UpdateArg(name string, v astifilter.Property) error {
	switch name {
	case "reframe":
		d.reframe, _ = v.Bool()
	case "index_dur":
		d.indexDur, _ = v.Double()
	default:
		return fmt.Errorf("psdemux: unknown arg %s", name)
	}
	return nil
}

func (d *Demuxer) ConfigurePin(p *astifilter.InputPin, isRemove bool) error {
	// Upstream disconnect: tear down every owned output pin and release all
	// per-source state, whatever the play state
	if isRemove {
		d.in = nil
		for _, st := range d.ss {
			st.p.Remove()
		}
		d.ss = d.ss[:0]
		if d.h != nil {
			d.h.Close()
			d.h = nil
		}
		d.identity = ""
		return nil
	}

	// Check caps
	if m := d.f.CheckCaps(p); m.Result == astifilter.MatchResultNoMatch {
		return astifilter.ErrNotSupported
	}

	// Get source identity
	v, ok := p.Property(astifilter.PropertyKeyFilePath)
	if !ok {
		return astifilter.ErrNotSupported
	}
	identity, _ := v.Str()

	// Store pin
	d.in = p

	// Same source
	if d.identity == identity {
		return nil
	}

	// Changed source identity: close the old handle and mark owned output
	// pins as not in use so they may be reused if the new source has an
	// equivalent stream. Reopening is deferred to the next process call so
	// that configuration errors surface as a processing failure.
	if d.h != nil {
		d.h.Close()
		d.h = nil
		for _, st := range d.ss {
			st.inUse = false
		}
	}

	// Store identity
	d.identity = identity
	return nil
}

func (d *Demuxer) ProcessEvent(e astifilter.Event) bool {
	switch e.Type {
	case astifilter.EventTypePlay:
		// Replaying an identical play command must not re-seek
		if d.playing && d.start == e.StartRange {
			return true
		}
		d.start = e.StartRange
		d.playing = true
		d.inSeek = true
		// Cancel event
		return true
	case astifilter.EventTypeStop:
		d.playing = false
		// Don't cancel event
		return false
	case astifilter.EventTypeSetSpeed:
		// Cancel event
		return true
	}
	// By default don't cancel event
	return false
}

func (d *Demuxer) Process() error {
	// No pending input
	if d.in == nil {
		return nil
	}
	pck := d.in.Packet()
	if pck == nil && d.h == nil {
		return nil
	}

	// Lazy open
	if d.h == nil {
		// For now we only work with complete sources
		if !pck.FrameEnd {
			return nil
		}

		// Open source
		h, err := d.src.Open(d.identity)
		if err != nil {
			// Map the collaborator failure before returning
			kind := astifilter.ErrNonCompliantInput
			if errors.Is(err, ErrUnsupportedFormat) {
				kind = astifilter.ErrNotSupported
			}
			err = fmt.Errorf("psdemux: opening %s failed: %w: %s", d.identity, kind, err)
			d.f.SetupFailure(err)
			return err
		}
		d.h = h

		// Declare output pins
		d.setup()
	}

	// The source identity has been consumed
	if pck != nil {
		d.in.DropPacket()
	}

	// Not playing
	if !d.playing {
		return nil
	}

	// Pending seek, executed in the data-processing context to avoid racing
	// with in-flight reads
	if d.inSeek {
		to := time.Duration(d.start * float64(time.Second))
		for _, st := range d.ss {
			if !st.inUse {
				continue
			}
			d.h.Seek(st.streamType, st.num, to)
		}
		d.inSeek = false
	}

	// Loop through streams
	var nbDone, progressed int
	for _, st := range d.ss {
		// Not in use
		if !st.inUse {
			nbDone++
			continue
		}

		// Backpressure: defer all work for that pin, source data is preserved
		if st.p.WouldBlock() {
			continue
		}

		// Get next unit
		u, ok := d.h.NextUnit(st.streamType, st.num, timescale)
		if !ok {
			nbDone++
			continue
		}

		// Normalize timestamps against the source's first DTS
		dts := u.DTS - d.firstDTS
		cts := u.CTS - d.firstDTS

		// Video payloads may carry a trailing start code
		bs := u.Bytes
		if st.streamType == astifilter.StreamTypeVideo && len(bs) >= 4 && bs[len(bs)-4] == 0 && bs[len(bs)-3] == 0 && bs[len(bs)-2] == 1 {
			bs = bs[:len(bs)-4]
		}

		// Create packet
		pkt := astifilter.NewPacket(bs)
		pkt.CTS = cts
		if st.streamType == astifilter.StreamTypeVideo {
			pkt.DTS = dts
		}
		if u.Sync {
			pkt.SAP = astifilter.SAP1
		}

		// Increment stats
		atomic.AddUint64(&d.cs.outgoingBytes, uint64(pkt.Size()))
		atomic.AddUint64(&d.cs.outgoingPackets, 1)

		// Send packet
		st.p.Send(pkt)
		progressed++
	}

	// All streams are done: not-in-use pins keep their state so that a later
	// source may reuse them
	if nbDone == len(d.ss) {
		for _, st := range d.ss {
			if st.inUse {
				st.p.SetEOS()
			}
		}
		return astifilter.ErrEOS
	}

	// Keep producing while at least one stream progressed. When every pin
	// was blocked, draining consumers reschedule us.
	if progressed > 0 {
		d.f.Reschedule()
	}
	return nil
}

// setup declares one output pin per elementary stream, reusing unused pins
// of the same stream type first so that redirecting the filter to a similar
// source doesn't cause a downstream renegotiation storm.
func (d *Demuxer) setup() {
	// Get duration
	dur := d.h.Duration()

	// Get first DTS
	d.firstDTS = d.h.FirstDTS(timescale)

	// Shared clock for downstream synchronization
	var syncID uint64

	// Loop through video streams
	for i := 0; i < d.h.StreamCount(astifilter.StreamTypeVideo); i++ {
		// Get stream
		st, reused := d.stream(astifilter.StreamTypeVideo)
		st.inUse = true
		st.num = i
		if syncID == 0 {
			syncID = 1 + uint64(i)
		}

		// Get params
		sp := d.h.StreamParams(astifilter.StreamTypeVideo, i)

		// Every declared property is fully overwritten on reuse so that
		// stale values from the previous source never leak through
		st.p.SetProperty(astifilter.PropertyKeyStreamType, astifilter.UintProperty(astifilter.StreamTypeVideo))
		st.p.SetProperty(astifilter.PropertyKeyCodecID, astifilter.UintProperty(sp.Codec))
		st.p.SetProperty(astifilter.PropertyKeyTimescale, astifilter.UintProperty(timescale))
		st.p.SetProperty(astifilter.PropertyKeyID, astifilter.UintProperty(1+uint64(i)))
		st.p.SetProperty(astifilter.PropertyKeyClockID, astifilter.UintProperty(syncID))
		if sp.FPS > 0 {
			fps := videoTiming(sp.FPS)
			st.p.SetProperty(astifilter.PropertyKeyFPS, astifilter.FracProperty(fps.Num, fps.Den))
		} else {
			st.p.SetProperty(astifilter.PropertyKeyFPS, astifilter.Null)
		}
		st.p.SetProperty(astifilter.PropertyKeyWidth, astifilter.UintProperty(sp.Width))
		st.p.SetProperty(astifilter.PropertyKeyHeight, astifilter.UintProperty(sp.Height))
		if sp.SAR > 0 {
			st.p.SetProperty(astifilter.PropertyKeySAR, astifilter.FracProperty(int64(sp.SAR>>16), int64(sp.SAR&0xffff)))
		} else {
			st.p.SetProperty(astifilter.PropertyKeySAR, astifilter.Null)
		}
		st.p.SetProperty(astifilter.PropertyKeyDuration, astifilter.FracProperty(dur.Milliseconds(), 1000))

		// Notify connected consumers of the new configuration
		if reused {
			d.reconfigure(st)
		}
	}

	// Loop through audio streams
	for i := 0; i < d.h.StreamCount(astifilter.StreamTypeAudio); i++ {
		// Get params
		sp := d.h.StreamParams(astifilter.StreamTypeAudio, i)

		// Unknown codec
		if sp.Codec == 0 {
			continue
		}

		// Get stream
		st, reused := d.stream(astifilter.StreamTypeAudio)
		st.inUse = true
		st.num = i
		if syncID == 0 {
			syncID = 100 + uint64(i)
		}

		st.p.SetProperty(astifilter.PropertyKeyStreamType, astifilter.UintProperty(astifilter.StreamTypeAudio))
		st.p.SetProperty(astifilter.PropertyKeyCodecID, astifilter.UintProperty(sp.Codec))
		st.p.SetProperty(astifilter.PropertyKeySampleRate, astifilter.UintProperty(sp.SampleRate))
		st.p.SetProperty(astifilter.PropertyKeyChannels, astifilter.UintProperty(sp.Channels))
		st.p.SetProperty(astifilter.PropertyKeyBitrate, astifilter.UintProperty(sp.Bitrate))
		st.p.SetProperty(astifilter.PropertyKeyTimescale, astifilter.UintProperty(timescale))
		st.p.SetProperty(astifilter.PropertyKeyID, astifilter.UintProperty(100+uint64(i)))
		st.p.SetProperty(astifilter.PropertyKeyClockID, astifilter.UintProperty(syncID))
		st.p.SetProperty(astifilter.PropertyKeyDuration, astifilter.FracProperty(dur.Milliseconds(), 1000))

		// Notify connected consumers of the new configuration
		if reused {
			d.reconfigure(st)
		}
	}
}

// stream returns an unused pooled stream of the requested type, allocating a
// new one (and its output pin) when none can be reused.
func (d *Demuxer) stream(streamType uint64) (st *demuxerStream, reused bool) {
	// Try to reuse an unused stream of the same type. The pin may carry the
	// previous source's end-of-stream, which must not leak into the new one
	for _, i := range d.ss {
		if i.streamType == streamType && !i.inUse {
			i.p.ClearEOS()
			return i, true
		}
	}

	// Allocate stream
	st = &demuxerStream{
		p:          d.f.NewOutputPin(),
		streamType: streamType,
	}
	d.ss = append(d.ss, st)
	return st, false
}

func (d *Demuxer) reconfigure(st *demuxerStream) {
	if err := st.p.Reconfigure(); err != nil {
		d.f.Logger().WarnC(d.f.Context(), fmt.Errorf("psdemux: reconfiguring pin failed: %w", err))
	}
}

// videoTiming maps a framerate to an exact tick fraction, handling the
// drop-frame formats.
func videoTiming(fps float64) astifilter.Fraction {
	fps1000 := int64(fps*1000 + 0.5)
	switch fps1000 {
	case 29970:
		return astifilter.Fraction{Num: 30000, Den: 1001}
	case 23976:
		return astifilter.Fraction{Num: 24000, Den: 1001}
	case 59940:
		return astifilter.Fraction{Num: 60000, Den: 1001}
	default:
		return astifilter.Fraction{Num: fps1000, Den: 1000}
	}
}

type DemuxerCumulativeStats struct {
	OutgoingBytes   uint64
	OutgoingPackets uint64
}

func (d *Demuxer) CumulativeStats() DemuxerCumulativeStats {
	return DemuxerCumulativeStats{
		OutgoingBytes:   atomic.LoadUint64(&d.cs.outgoingBytes),
		OutgoingPackets: atomic.LoadUint64(&d.cs.outgoingPackets),
	}
}

func (d *Demuxer) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of packets going out per second",
				Label:       "Outgoing rate",
				Name:        astifilter.DeltaStatNameOutgoingRate,
				Unit:        "pps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&d.cs.outgoingPackets),
		},
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of bytes going out per second",
				Label:       "Outgoing byte rate",
				Name:        astifilter.DeltaStatNameOutgoingByteRate,
				Unit:        "Bps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&d.cs.outgoingBytes),
		},
	}
}
