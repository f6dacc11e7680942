package astifilter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

var sessionCount uint64

const defaultHighWaterMark = 16

// Session owns the scheduling of filters, the delivery of events and the
// backpressure queries: a filter never schedules itself.
type Session struct {
	ctx         context.Context
	dss         []astikit.DeltaStat
	e           *astikit.EventManager
	filterCount uint64
	fs          []*Filter
	id          uint64
	l           astikit.CompleteLogger
	mf          sync.Mutex // Locks fs
	o           SessionOptions
	pinCount    uint64
	ps          []Plugin
	r           *Registry
	t           *task
}

type SessionOptions struct {
	ContextAdapters SessionContextAdaptersOptions
	DeltaStats      []astikit.DeltaStat
	// HighWaterMark is the pending packet count on an input pin's queue above
	// which the feeding output pin reports it would block. Defaults to 16.
	HighWaterMark int
	Logger        astikit.StdLogger
	Metadata      Metadata
	Plugins       []Plugin
	Registry      *Registry
	Stop          *SessionStopOptions
	Worker        *astikit.Worker
}

type SessionContextAdaptersOptions struct {
	Filter  func(context.Context, *Session, *Filter) context.Context
	Plugin  func(context.Context, *Session, Plugin) context.Context
	Session func(context.Context, *Session) context.Context
}

type SessionStopOptions struct {
	WhenAllFiltersAreDone bool // Default is false
}

func NewSession(o SessionOptions) (s *Session, err error) {
	// Create session
	s = &Session{
		ctx: context.Background(),
		dss: make([]astikit.DeltaStat, len(o.DeltaStats)),
		e:   astikit.NewEventManager(),
		id:  atomic.AddUint64(&sessionCount, 1),
		l:   astikit.AdaptStdLogger(o.Logger),
		o:   o,
		ps:  make([]Plugin, len(o.Plugins)),
		r:   o.Registry,
	}

	// Default registry
	if s.r == nil {
		s.r = NewRegistry()
	}

	// Adapt context
	if s.o.ContextAdapters.Session != nil {
		s.ctx = s.o.ContextAdapters.Session(s.ctx, s)
	}

	// Copy stats
	copy(s.dss, o.DeltaStats)

	// Copy plugins
	copy(s.ps, o.Plugins)

	// Create task
	s.t = newTask(astikit.NewCloser(), s.onTaskStart, s.onTaskStop)

	// Listen to filter events
	s.On(EventNameFilterCreated, func(payload interface{}) bool {
		// Assert payload
		f, ok := payload.(*Filter)
		if !ok {
			return false
		}

		// Store filter
		s.mf.Lock()
		s.fs = append(s.fs, f)
		s.mf.Unlock()

		// Listen to filter events
		f.On(EventNameFilterDone, func(payload interface{}) bool {
			// Remove filter
			s.mf.Lock()
			for idx := 0; idx < len(s.fs); idx++ {
				if f.id == s.fs[idx].id {
					s.fs = append(s.fs[:idx], s.fs[idx+1:]...)
					idx--
				}
			}
			allFiltersAreDone := len(s.fs) == 0
			s.mf.Unlock()

			// All filters are done
			if allFiltersAreDone && s.o.Stop != nil && s.o.Stop.WhenAllFiltersAreDone {
				// Stop session
				s.Stop() //nolint: errcheck
			}
			return false
		})
		return false
	})

	// Listen to task events
	s.t.e.On(eventNameTaskClosed, func(payload interface{}) (delete bool) {
		// Log
		s.l.InfoC(s.ctx, "astifilter: session is closed")

		// Emit
		s.Emit(EventNameSessionClosed, nil)
		return true
	})
	s.t.e.On(eventNameTaskDone, func(payload interface{}) (delete bool) {
		// Log
		s.l.InfoC(s.ctx, "astifilter: session is done")

		// Emit
		s.Emit(EventNameSessionDone, nil)
		return
	})
	s.t.e.On(eventNameTaskRunning, func(payload interface{}) (delete bool) {
		// Log
		s.l.InfoC(s.ctx, "astifilter: session is running")

		// Emit
		s.Emit(EventNameSessionRunning, nil)
		return
	})
	s.t.e.On(eventNameTaskStarting, func(payload interface{}) (delete bool) {
		// Log
		s.l.InfoC(s.ctx, "astifilter: session is starting")

		// Emit
		s.Emit(EventNameSessionStarting, nil)
		return
	})
	s.t.e.On(eventNameTaskStopping, func(payload interface{}) (delete bool) {
		// Log
		s.l.InfoC(s.ctx, "astifilter: session is stopping")

		// Emit
		s.Emit(EventNameSessionStopping, nil)
		return
	})

	// Loop through plugins
	for idx, p := range s.ps {
		// Create context
		ctx := context.Background()
		if s.o.ContextAdapters.Plugin != nil {
			ctx = s.o.ContextAdapters.Plugin(ctx, s, p)
		}

		// Initialize plugin
		if err = p.Init(ctx, s.t.c.NewChild(), s); err != nil {
			err = fmt.Errorf("astifilter: initializing plugin #%d failed: %w", idx, err)
			return
		}
	}
	return
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) String() string {
	if s.Metadata().Name != "" {
		return fmt.Sprintf("%s (session_%d)", s.Metadata().Name, s.id)
	}
	return fmt.Sprintf("session_%d", s.id)
}

func (s *Session) DeltaStats() []astikit.DeltaStat {
	dst := make([]astikit.DeltaStat, len(s.dss))
	copy(dst, s.dss)
	return dst
}

func (s *Session) Metadata() Metadata {
	return s.o.Metadata
}

func (s *Session) Logger() astikit.CompleteLogger {
	return s.l
}

func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Registry() *Registry {
	return s.r
}

func (s *Session) Close() error {
	return s.t.c.Close()
}

func (s *Session) Status() Status {
	return s.t.status()
}

func (s *Session) Emit(n astikit.EventName, payload interface{}) {
	s.e.Emit(n, payload)
}

func (s *Session) On(n astikit.EventName, h astikit.EventHandler) astikit.EventRemover {
	return s.e.On(n, h)
}

func (s *Session) Filters() (filters []*Filter) {
	s.mf.Lock()
	defer s.mf.Unlock()
	filters = make([]*Filter, len(s.fs))
	copy(filters, s.fs)
	return
}

func (s *Session) highWaterMark() int {
	if s.o.HighWaterMark > 0 {
		return s.o.HighWaterMark
	}
	return defaultHighWaterMark
}

// Connect links an upstream output pin to a downstream filter: an input pin
// is created and the downstream filter validates it in ConfigurePin. A
// configure error prevents the connection from completing.
func (s *Session) Connect(src *OutputPin, dst *Filter) (in *InputPin, err error) {
	// Create input pin
	in = newInputPin(dst, src)

	// Configure
	if err = dst.configurePin(in, false); err != nil {
		err = fmt.Errorf("astifilter: configuring pin failed: %w", err)
		return
	}

	// Attach
	src.attach(in)
	dst.addInput(in)

	// Emit event
	s.Emit(EventNamePinConnected, in)

	// The producer may have been waiting for a consumer
	src.f.schedule()
	dst.schedule()
	return
}

// Disconnect undoes a connection: the downstream filter is notified with a
// removal configure, unconditionally, whatever the play state.
func (s *Session) Disconnect(in *InputPin) {
	s.disconnect(in, true)
}

func (s *Session) disconnect(in *InputPin, configure bool) {
	// Callback
	if configure {
		if err := in.f.configurePin(in, true); err != nil {
			s.l.WarnC(in.f.ctx, fmt.Errorf("astifilter: configuring pin removal failed: %w", err))
		}
	}

	// Detach
	in.up.detach(in)
	in.f.removeInput(in)

	// Release pending packets
	in.flush()

	// Emit event
	s.Emit(EventNamePinDisconnected, in)
}

func (s *Session) Start(ctx context.Context) error {
	// Start task
	if err := s.t.start(ctx, s.o.Worker.NewTask); err != nil {
		return fmt.Errorf("astifilter: starting task failed: %w", err)
	}
	return nil
}

func (s *Session) onTaskStart(ctx context.Context, cancel context.CancelFunc, tc astikit.TaskCreator) {
	// Loop through plugins
	for _, p := range s.ps {
		// Start plugin
		p.Start(ctx, tc)
	}

	// Loop through filters
	for _, f := range s.Filters() {
		// Start filter
		if err := f.start(tc); err != nil {
			s.l.WarnC(f.ctx, fmt.Errorf("astifilter: starting filter failed: %w", err))
		}
	}

	// Initial scheduling round
	for _, f := range s.Filters() {
		f.schedule()
	}
}

func (s *Session) onTaskStop() {
	// Loop through filters
	for _, f := range s.Filters() {
		// Stop filter
		if err := f.stop(); err != nil {
			s.l.WarnC(f.ctx, fmt.Errorf("astifilter: stopping filter failed: %w", err))
		}
	}
}

func (s *Session) Stop() error {
	// Stop task
	if err := s.t.stop(); err != nil {
		return fmt.Errorf("astifilter: stopping task failed: %w", err)
	}
	return nil
}
