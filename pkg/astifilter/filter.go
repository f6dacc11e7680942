package astifilter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

// Filterer is the contract every filter implements. The session guarantees
// only one ConfigurePin/Process/ProcessEvent call is in flight for a given
// filter instance at any time, so no locking is required inside a filter's
// own state block.
type Filterer interface {
	// ConfigurePin is invoked when an upstream output pin is connected to the
	// filter, again whenever upstream reconfigures, and with isRemove true
	// when upstream disconnects.
	ConfigurePin(p *InputPin, isRemove bool) error
	// Finalize runs exactly once at teardown and must release every
	// collaborator handle and private buffer. It can run after a failed
	// Initialize.
	Finalize()
	// Initialize runs exactly once before anything else. Any failure here is
	// fatal and aborts filter construction.
	Initialize(f *Filter) error
	// Process must be a no-op returning nil when the filter has no pending
	// input and is not mid-flush. Returning ErrEOS reports stream-level
	// completion.
	Process() error
	// ProcessEvent returns true when the event is fully handled locally and
	// must not propagate upstream.
	ProcessEvent(e Event) (canceled bool)
	// UpdateArg applies one declared configuration option.
	UpdateArg(name string, v Property) error
}

// DeltaStater is implemented by filterers exposing runtime stats.
type DeltaStater interface {
	DeltaStats() []astikit.DeltaStat
}

// Arg declares one recognized configuration option.
type Arg struct {
	Default     Property
	Description string
	Kind        PropertyKind
	Name        string
	// Wildcard entries accept arbitrary externally-defined option names,
	// used to pass third-party tuning parameters through unchanged.
	Wildcard bool
}

// Filter is purposefuly not an interface
type Filter struct {
	args      map[string]Arg
	ch        *astikit.Chan
	ctx       context.Context
	e         *astikit.EventManager
	fr        Filterer
	id        uint64
	ins       []*InputPin
	m         sync.Mutex // Locks ins and outs
	o         FilterOptions
	outs      []*OutputPin
	s         *Session
	scheduled uint32
	t         *task
	wildcard  bool
}

type FilterOptions struct {
	Args []Arg
	// Caps are the filter's declared input capability bundles, consulted by
	// its ConfigurePin implementation through CheckCaps.
	Caps     Capabilities
	Filterer Filterer
	Metadata Metadata
}

func (s *Session) NewFilter(o FilterOptions) (f *Filter, c *astikit.Closer, err error) {
	// Invalid session status
	if s.Status() != StatusCreated {
		err = fmt.Errorf("astifilter: invalid session status %s", s.Status())
		return
	}

	// Create filter
	f = &Filter{
		args: make(map[string]Arg),
		ch:   astikit.NewChan(astikit.ChanOptions{ProcessAll: true}),
		ctx:  context.Background(),
		e:    astikit.NewEventManager(),
		fr:   o.Filterer,
		id:   atomic.AddUint64(&s.filterCount, 1),
		o:    o,
		s:    s,
	}

	// Index args
	for _, a := range o.Args {
		f.args[a.Name] = a
		if a.Wildcard {
			f.wildcard = true
		}
	}

	// Adapt context
	if s.o.ContextAdapters.Filter != nil {
		f.ctx = s.o.ContextAdapters.Filter(f.ctx, s, f)
	}

	// Create task
	f.t = newTask(s.t.c.NewChild(), f.onTaskStart, nil)

	// Listen to task events
	f.t.e.On(eventNameTaskClosed, func(payload interface{}) (delete bool) {
		// Log
		s.l.InfoC(f.ctx, "astifilter: filter is closed")

		// Emit
		f.Emit(EventNameFilterClosed, nil)
		return true
	})
	f.t.e.On(eventNameTaskDone, func(payload interface{}) (delete bool) {
		// Log
		s.l.InfoC(f.ctx, "astifilter: filter is done")

		// Emit
		f.Emit(EventNameFilterDone, nil)
		return
	})
	f.t.e.On(eventNameTaskRunning, func(payload interface{}) (delete bool) {
		// Log
		s.l.InfoC(f.ctx, "astifilter: filter is running")

		// Emit
		f.Emit(EventNameFilterRunning, nil)
		return
	})
	f.t.e.On(eventNameTaskStarting, func(payload interface{}) (delete bool) {
		// Log
		s.l.InfoC(f.ctx, "astifilter: filter is starting")

		// Emit
		f.Emit(EventNameFilterStarting, nil)
		return
	})
	f.t.e.On(eventNameTaskStopping, func(payload interface{}) (delete bool) {
		// Log
		s.l.InfoC(f.ctx, "astifilter: filter is stopping")

		// Emit
		f.Emit(EventNameFilterStopping, nil)
		return
	})

	// Make sure to finalize the filterer exactly once at teardown. Output
	// pins are closed by the session first: the closer runs in reverse order.
	f.t.c.Add(f.fr.Finalize)
	f.t.c.Add(f.removeOutputPins)

	// Create closer
	c = f.t.c.NewChild()

	// Apply arg defaults
	for _, a := range o.Args {
		if a.Default.IsNull() {
			continue
		}
		if err = f.fr.UpdateArg(a.Name, a.Default); err != nil {
			err = fmt.Errorf("astifilter: applying default of arg %s failed: %w", a.Name, err)
			return
		}
	}

	// Initialize
	if err = f.fr.Initialize(f); err != nil {
		// Finalize must still run after a failed initialize
		f.t.c.Close()
		err = fmt.Errorf("astifilter: initializing filterer failed: %w", err)
		return
	}

	// Emit created filter
	s.Emit(EventNameFilterCreated, f)
	return
}

func (f *Filter) ID() uint64 {
	return f.id
}

func (f *Filter) String() string {
	if f.Metadata().Name != "" {
		return fmt.Sprintf("%s (filter_%d)", f.Metadata().Name, f.id)
	}
	return fmt.Sprintf("filter_%d", f.id)
}

func (f *Filter) Metadata() Metadata {
	return f.o.Metadata
}

func (f *Filter) Logger() astikit.CompleteLogger {
	return f.s.l
}

func (f *Filter) Context() context.Context {
	return f.ctx
}

func (f *Filter) Session() *Session {
	return f.s
}

func (f *Filter) Filterer() Filterer {
	return f.fr
}

func (f *Filter) Status() Status {
	return f.t.status()
}

func (f *Filter) Emit(n astikit.EventName, payload interface{}) {
	f.e.Emit(n, payload)
}

func (f *Filter) On(n astikit.EventName, h astikit.EventHandler) astikit.EventRemover {
	return f.e.On(n, h)
}

func (f *Filter) InputPins() []*InputPin {
	f.m.Lock()
	defer f.m.Unlock()
	ins := make([]*InputPin, len(f.ins))
	copy(ins, f.ins)
	return ins
}

func (f *Filter) OutputPins() []*OutputPin {
	f.m.Lock()
	defer f.m.Unlock()
	outs := make([]*OutputPin, len(f.outs))
	copy(outs, f.outs)
	return outs
}

// CheckCaps runs the capability matcher on the filter's declared input
// capabilities against the candidate pin's current configuration.
func (f *Filter) CheckCaps(p *InputPin) Match {
	return MatchCaps(f.o.Caps, p.Properties())
}

// UpdateArg applies a configuration option. Options are set once before
// first use: updating a started filter fails. Unknown names are only
// accepted when the filter declares a wildcard arg.
func (f *Filter) UpdateArg(name string, v Property) error {
	// Filter already started
	if f.Status() != StatusCreated {
		return fmt.Errorf("astifilter: invalid filter status %s", f.Status())
	}

	// Validate against the declared table
	if a, ok := f.args[name]; ok {
		if !v.IsNull() && v.Kind() != a.Kind {
			return fmt.Errorf("astifilter: invalid kind %s for arg %s, expected %s", v.Kind(), name, a.Kind)
		}
	} else if !f.wildcard {
		return fmt.Errorf("astifilter: unknown arg %s", name)
	}

	// Callback
	if err := f.fr.UpdateArg(name, v); err != nil {
		return fmt.Errorf("astifilter: updating arg %s failed: %w", name, err)
	}
	return nil
}

func (f *Filter) DeltaStats() []astikit.DeltaStat {
	ss := f.ch.DeltaStats()
	if v, ok := f.fr.(DeltaStater); ok {
		ss = append(ss, v.DeltaStats()...)
	}
	return ss
}

// SetupFailure reports a filter-setup failure to the session: the filter
// stops producing but EOS is not signaled since a hard failure is distinct
// from a clean end-of-stream.
func (f *Filter) SetupFailure(err error) {
	// Log
	f.s.l.ErrorC(f.ctx, fmt.Errorf("astifilter: filter setup failed: %w", err))

	// Emit
	f.Emit(EventNameFilterSetupFailure, err)

	// Stop
	if serr := f.stop(); serr != nil {
		f.s.l.WarnC(f.ctx, fmt.Errorf("astifilter: stopping filter failed: %w", serr))
	}
}

// Reschedule requests another Process call, used by filters that are
// mid-flush with no pending input left.
func (f *Filter) Reschedule() {
	f.schedule()
}

// schedule queues one serialized Process invocation, coalescing bursts.
func (f *Filter) schedule() {
	if !atomic.CompareAndSwapUint32(&f.scheduled, 0, 1) {
		return
	}
	f.ch.Add(f.process)
}

func (f *Filter) process() {
	// Allow coalescing again
	atomic.StoreUint32(&f.scheduled, 0)

	// Filter is not processing anymore
	if f.Status() > StatusRunning {
		return
	}

	// Callback
	if err := f.fr.Process(); err != nil {
		// Clean stream-level completion
		if errors.Is(err, ErrEOS) {
			// Emit
			f.Emit(EventNameFilterEOS, nil)

			// Stop
			if serr := f.stop(); serr != nil {
				f.s.l.WarnC(f.ctx, fmt.Errorf("astifilter: stopping filter failed: %w", serr))
			}
			return
		}

		// Process-time errors are swallowed locally and processing continues
		// on the next call
		f.s.l.WarnC(f.ctx, fmt.Errorf("astifilter: processing failed: %w", err))
	}

	// Reschedule while input is pending
	if f.pendingInput() {
		f.schedule()
	}
}

func (f *Filter) pendingInput() bool {
	for _, in := range f.InputPins() {
		if in.len() > 0 {
			return true
		}
	}
	return false
}

// SendEvent delivers a control event to the filter. Before the session is
// started the event is handled inline, afterwards it is serialized with
// Process calls. Non-canceled events propagate upstream along the filter's
// input pins.
func (f *Filter) SendEvent(e Event) {
	if f.Status() == StatusCreated {
		f.handleEvent(e)
		return
	}
	f.ch.Add(func() { f.handleEvent(e) })
}

func (f *Filter) handleEvent(e Event) {
	// Callback
	canceled := f.fr.ProcessEvent(e)

	// The event may have unlocked processing work
	f.schedule()

	// Canceled events are fully handled locally
	if canceled {
		return
	}

	// Propagate upstream
	for _, in := range f.InputPins() {
		in.SendEvent(e)
	}
}

// configurePin serializes the configure callback with Process calls once the
// filter is started.
func (f *Filter) configurePin(p *InputPin, isRemove bool) (err error) {
	f.do(func() { err = f.fr.ConfigurePin(p, isRemove) })
	return
}

func (f *Filter) do(fn func()) {
	// Before start and during teardown the serialized queue isn't processing:
	// run inline
	if s := f.Status(); s == StatusCreated || s > StatusRunning {
		fn()
		return
	}

	// Wait for the serialized invocation
	done := make(chan struct{})
	f.ch.Add(func() {
		defer close(done)
		fn()
	})
	<-done
}

func (f *Filter) addInput(p *InputPin) {
	f.m.Lock()
	defer f.m.Unlock()
	f.ins = append(f.ins, p)
}

func (f *Filter) removeInput(p *InputPin) {
	f.m.Lock()
	defer f.m.Unlock()
	for idx := 0; idx < len(f.ins); idx++ {
		if f.ins[idx] == p {
			f.ins = append(f.ins[:idx], f.ins[idx+1:]...)
			idx--
		}
	}
}

// removeOutputPins runs at teardown: pins are closed by the session, not by
// the filterer's finalize.
func (f *Filter) removeOutputPins() {
	for _, p := range f.OutputPins() {
		p.Remove()
	}
}

func (f *Filter) onTaskStart(ctx context.Context, cancel context.CancelFunc, tc astikit.TaskCreator) {
	tc().Do(func() {
		// Make sure to stop the chan properly
		defer f.ch.Stop()

		// Start chan
		f.ch.Start(ctx)
	})
}

func (f *Filter) start(tc astikit.TaskCreator) error {
	// Start task
	// We don't want to use the session context here since a filter may
	// outlive a session stop request while draining
	if err := f.t.start(context.Background(), tc); err != nil {
		return fmt.Errorf("astifilter: starting task failed: %w", err)
	}
	return nil
}

func (f *Filter) stop() error {
	// Stop task
	if err := f.t.stop(); err != nil {
		return fmt.Errorf("astifilter: stopping task failed: %w", err)
	}
	return nil
}
