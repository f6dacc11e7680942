package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/filters/encode"
	"github.com/asticode/go-astifilter/pkg/filters/psdemux"
	"github.com/asticode/go-astifilter/pkg/plugins/monitor/server"
	"github.com/asticode/go-astifilter/pkg/stats/psutil"
	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astilog"
)

var (
	addr = flag.String("addr", "127.0.0.1:4000", "the monitor server addr")
	l    = astilog.New(astilog.Configuration{})
)

func main() {
	flag.Parse()

	ds, err := psutil.New()
	if err != nil {
		l.Fatal(err)
	}

	w := astikit.NewWorker(astikit.WorkerOptions{Logger: l})
	w.HandleSignals(astikit.TermSignalHandler(w.Stop))

	s, err := astifilter.NewSession(astifilter.SessionOptions{
		ContextAdapters: astifilter.SessionContextAdaptersOptions{
			Filter: func(ctx context.Context, s *astifilter.Session, f *astifilter.Filter) context.Context {
				return astilog.ContextWithFields(ctx, map[string]interface{}{
					"filter":  f.String(),
					"session": s.String(),
				})
			},
			Session: func(ctx context.Context, s *astifilter.Session) context.Context {
				return astilog.ContextWithFields(ctx, map[string]interface{}{
					"session": s.String(),
				})
			},
		},
		DeltaStats: []astikit.DeltaStat{ds},
		Logger:     l,
		Metadata: astifilter.Metadata{
			Description: "Dev session",
			Name:        "dev",
		},
		Plugins: []astifilter.Plugin{server.New(server.PluginOptions{
			Addr:        *addr,
			API:         server.PluginAPIOptions{URL: "/api"},
			DeltaPeriod: time.Second,
			Push:        server.PluginPushOptions{URL: "/push"},
		})},
		Stop:   &astifilter.SessionStopOptions{WhenAllFiltersAreDone: true},
		Worker: w,
	})
	if err != nil {
		l.Fatal(err)
	}
	defer s.Close()

	s.On(astifilter.EventNameSessionDone, func(payload interface{}) bool {
		w.Stop()
		return false
	})

	// Demux chain: a synthetic program stream demuxed into its elementary
	// streams, each drained by its own sink
	fileSrc := &packetSource{
		count: 1,
		props: map[astifilter.PropertyKey]astifilter.Property{
			astifilter.PropertyKeyFilePath: astifilter.StringProperty("memory://demo.mpg"),
			astifilter.PropertyKeyMIME:     astifilter.StringProperty("video/mpeg"),
		},
	}
	if _, _, err = s.NewFilter(astifilter.FilterOptions{
		Filterer: fileSrc,
		Metadata: astifilter.Metadata{Name: "filesrc"},
	}); err != nil {
		l.Fatal(err)
	}

	d, err := psdemux.New(psdemux.DemuxerOptions{
		Session: s,
		Source:  newMemSource(),
	})
	if err != nil {
		l.Fatal(err)
	}
	if _, err = s.Connect(fileSrc.out, d.Filter()); err != nil {
		l.Fatal(err)
	}

	// Demuxed pins appear at process time: sinks are connected as they do
	demuxSinks := map[uint64]*astifilter.Filter{}
	for _, streamType := range []uint64{astifilter.StreamTypeVideo, astifilter.StreamTypeAudio} {
		sk := &sink{}
		f, _, err := s.NewFilter(astifilter.FilterOptions{
			Filterer: sk,
			Metadata: astifilter.Metadata{Name: fmt.Sprintf("sink_%d", streamType)},
		})
		if err != nil {
			l.Fatal(err)
		}
		demuxSinks[streamType] = f
	}
	s.On(astifilter.EventNamePinCreated, func(payload interface{}) bool {
		p, ok := payload.(*astifilter.OutputPin)
		if !ok || p.Filter() != d.Filter() {
			return false
		}
		st, _ := p.Property(astifilter.PropertyKeyStreamType)
		v, _ := st.Uint()
		dst, ok := demuxSinks[v]
		if !ok {
			return false
		}
		if _, err := s.Connect(p, dst); err != nil {
			l.Error(fmt.Errorf("main: connecting demuxed pin failed: %w", err))
		}
		return false
	})

	// Encode chain: synthetic pcm encoded by a toy engine, drained by a sink
	rawSrc := &packetSource{
		count:   200,
		payload: make([]byte, 1024*2*2),
		props: map[astifilter.PropertyKey]astifilter.Property{
			astifilter.PropertyKeyStreamType: astifilter.UintProperty(astifilter.StreamTypeAudio),
			astifilter.PropertyKeyCodecID:    astifilter.UintProperty(astifilter.CodecIDRaw),
			astifilter.PropertyKeyTimescale:  astifilter.UintProperty(90000),
			astifilter.PropertyKeySampleRate: astifilter.UintProperty(44100),
			astifilter.PropertyKeyChannels:   astifilter.UintProperty(2),
		},
	}
	if _, _, err = s.NewFilter(astifilter.FilterOptions{
		Filterer: rawSrc,
		Metadata: astifilter.Metadata{Name: "rawsrc"},
	}); err != nil {
		l.Fatal(err)
	}

	e, err := encode.New(encode.EncoderOptions{
		Engine:  &toyEngine{},
		Session: s,
	})
	if err != nil {
		l.Fatal(err)
	}
	if err = e.Filter().UpdateArg("c", astifilter.UintProperty(psdemux.CodecIDAC3)); err != nil {
		l.Fatal(err)
	}
	if _, err = s.Connect(rawSrc.out, e.Filter()); err != nil {
		l.Fatal(err)
	}

	encSink := &sink{}
	fEncSink, _, err := s.NewFilter(astifilter.FilterOptions{
		Filterer: encSink,
		Metadata: astifilter.Metadata{Name: "sink_encode"},
	})
	if err != nil {
		l.Fatal(err)
	}
	if _, err = s.Connect(e.Filter().OutputPins()[0], fEncSink); err != nil {
		l.Fatal(err)
	}

	if err := s.Start(w.Context()); err != nil {
		l.Fatal(err)
	}

	w.Wait()
}

// packetSource declares one fully configured output pin and pushes count
// copies of payload before signaling end of stream.
type packetSource struct {
	count   int
	f       *astifilter.Filter
	out     *astifilter.OutputPin
	payload []byte
	props   map[astifilter.PropertyKey]astifilter.Property
	sent    int
}

func (ps *packetSource) Initialize(f *astifilter.Filter) error {
	ps.f = f
	ps.out = f.NewOutputPin()
	for k, v := range ps.props {
		ps.out.SetProperty(k, v)
	}
	return nil
}

func (ps *packetSource) Finalize() {}

func (ps *packetSource) ConfigurePin(p *astifilter.InputPin, isRemove bool) error {
	return astifilter.ErrNotSupported
}

func (ps *packetSource) ProcessEvent(e astifilter.Event) bool { return true }

func (ps *packetSource) UpdateArg(name string, v astifilter.Property) error {
	return fmt.Errorf("main: unknown arg %s", name)
}

func (ps *packetSource) Process() error {
	if ps.out.WouldBlock() {
		return nil
	}
	if ps.sent > ps.count {
		return nil
	}
	if ps.sent == ps.count {
		ps.out.SetEOS()
		ps.sent++
		return astifilter.ErrEOS
	}
	pck := astifilter.NewPacket(ps.payload)
	pck.CTS = int64(ps.sent) * 2048
	ps.sent++
	ps.out.Send(pck)
	ps.f.Reschedule()
	return nil
}

// sink plays its input as soon as it's connected and drains everything.
type sink struct {
	f    *astifilter.Filter
	in   *astifilter.InputPin
	pcks int
}

func (sk *sink) Initialize(f *astifilter.Filter) error {
	sk.f = f
	return nil
}

func (sk *sink) Finalize() {}

func (sk *sink) ConfigurePin(p *astifilter.InputPin, isRemove bool) error {
	if isRemove {
		sk.in = nil
		return nil
	}
	sk.in = p
	p.SendEvent(astifilter.PlayEvent(0))
	return nil
}

func (sk *sink) ProcessEvent(e astifilter.Event) bool { return false }

func (sk *sink) UpdateArg(name string, v astifilter.Property) error {
	return fmt.Errorf("main: unknown arg %s", name)
}

func (sk *sink) Process() error {
	if sk.in == nil {
		return nil
	}
	for sk.in.Packet() != nil {
		sk.pcks++
		sk.in.DropPacket()
	}
	if sk.in.IsEOS() {
		sk.f.Logger().InfoC(sk.f.Context(), fmt.Sprintf("main: sink drained %d packets", sk.pcks))
		return astifilter.ErrEOS
	}
	return nil
}

// memSource is an in-memory program stream: one mpeg2 video stream and one
// ac3 audio stream, 4 seconds each.
type memSource struct{}

func newMemSource() *memSource { return &memSource{} }

func (ms *memSource) Open(identity string) (psdemux.Handle, error) {
	if identity != "memory://demo.mpg" {
		return nil, psdemux.ErrNotFound
	}
	return &memHandle{}, nil
}

type memHandle struct {
	audioNext int
	videoNext int
}

func (mh *memHandle) Close() {}

func (mh *memHandle) Duration() time.Duration { return 4 * time.Second }

func (mh *memHandle) FirstDTS(timescale uint64) int64 { return 0 }

func (mh *memHandle) StreamCount(streamType uint64) int {
	switch streamType {
	case astifilter.StreamTypeVideo, astifilter.StreamTypeAudio:
		return 1
	}
	return 0
}

func (mh *memHandle) StreamParams(streamType uint64, index int) psdemux.StreamParams {
	if streamType == astifilter.StreamTypeVideo {
		return psdemux.StreamParams{
			Codec:  psdemux.CodecIDMPEG2Video,
			FPS:    25,
			Height: 576,
			Width:  720,
		}
	}
	return psdemux.StreamParams{
		Bitrate:    192000,
		Channels:   2,
		Codec:      psdemux.CodecIDAC3,
		SampleRate: 44100,
	}
}

func (mh *memHandle) Seek(streamType uint64, index int, to time.Duration) {
	n := int(to.Seconds() * 25)
	if streamType == astifilter.StreamTypeVideo {
		mh.videoNext = n
	} else {
		mh.audioNext = n
	}
}

func (mh *memHandle) NextUnit(streamType uint64, index int, timescale uint64) (psdemux.Unit, bool) {
	const count = 100
	ts := int64(timescale) / 25
	if streamType == astifilter.StreamTypeVideo {
		if mh.videoNext >= count {
			return psdemux.Unit{}, false
		}
		u := psdemux.Unit{
			Bytes: make([]byte, 1024),
			CTS:   int64(mh.videoNext) * ts,
			DTS:   int64(mh.videoNext) * ts,
			Sync:  mh.videoNext%25 == 0,
		}
		mh.videoNext++
		return u, true
	}
	if mh.audioNext >= count {
		return psdemux.Unit{}, false
	}
	u := psdemux.Unit{
		Bytes: make([]byte, 256),
		CTS:   int64(mh.audioNext) * ts,
		DTS:   int64(mh.audioNext) * ts,
		Sync:  true,
	}
	mh.audioNext++
	return u, true
}

// toyEngine packages pcm frames untouched, one frame of latency, renumbering
// timestamps from zero.
type toyEngine struct{}

func (te *toyEngine) Open(p encode.Params) (encode.Session, error) {
	if p.StreamType != astifilter.StreamTypeAudio {
		return nil, encode.ErrUnsupportedParams
	}
	return &toySession{
		frameSize: 1024 * int(p.Channels) * 2,
		sampleDur: astifilter.Rescale(1024, p.SampleRate, p.Timescale),
	}, nil
}

type toySession struct {
	frameSize int
	pending   []*encode.CodedUnit
	sampleDur int64
	units     int64
}

func (ts *toySession) Close() {}

func (ts *toySession) FrameSize() int { return ts.frameSize }

func (ts *toySession) SubmitInput(f *encode.Frame) (*encode.CodedUnit, error) {
	if f != nil {
		data := make([]byte, len(f.Data))
		copy(data, f.Data)
		ts.pending = append(ts.pending, &encode.CodedUnit{
			CTS:      ts.units * ts.sampleDur,
			Data:     data,
			DTS:      astifilter.NoTimestamp,
			Duration: ts.sampleDur,
			Sync:     true,
		})
		ts.units++
		if len(ts.pending) < 2 {
			return nil, nil
		}
	}
	if len(ts.pending) == 0 {
		return nil, nil
	}
	cu := ts.pending[0]
	ts.pending = ts.pending[1:]
	return cu, nil
}
