package astifilter

import (
	"sync"
	"sync/atomic"
)

// OutputPin is a producer endpoint exclusively owned by the filter that
// created it. Its property set is the current configuration seen by every
// connected consumer.
type OutputPin struct {
	eos uint32
	f   *Filter
	id  uint64
	ins []*InputPin
	m   sync.Mutex // Locks ins and ps
	ps  *Properties
}

// NewOutputPin creates an output pin on the filter. Pins are meant to be
// created during negotiation, never before the first successful configure.
func (f *Filter) NewOutputPin() *OutputPin {
	// Create pin
	p := &OutputPin{
		f:  f,
		id: atomic.AddUint64(&f.s.pinCount, 1),
		ps: NewProperties(),
	}

	// Store pin
	f.m.Lock()
	f.outs = append(f.outs, p)
	f.m.Unlock()

	// Emit event
	f.s.Emit(EventNamePinCreated, p)
	return p
}

func (p *OutputPin) ID() uint64 {
	return p.id
}

func (p *OutputPin) Filter() *Filter {
	return p.f
}

// SetProperty updates the pin's current configuration. Setting a key to the
// null property removes it.
func (p *OutputPin) SetProperty(k PropertyKey, v Property) {
	p.m.Lock()
	defer p.m.Unlock()
	p.ps.Set(k, v)
}

func (p *OutputPin) Property(k PropertyKey) (Property, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	return p.ps.Get(k)
}

// Properties returns a copy of the pin's current configuration.
func (p *OutputPin) Properties() *Properties {
	p.m.Lock()
	defer p.m.Unlock()
	return p.ps.Clone()
}

// Timescale returns the pin's declared timescale or 0 when undeclared.
func (p *OutputPin) Timescale() uint64 {
	v, ok := p.Property(PropertyKeyTimescale)
	if !ok {
		return 0
	}
	t, _ := v.Uint()
	return t
}

func (p *OutputPin) inputPins() []*InputPin {
	p.m.Lock()
	defer p.m.Unlock()
	ins := make([]*InputPin, len(p.ins))
	copy(ins, p.ins)
	return ins
}

// WouldBlock reports whether at least one consumer's queue is above the
// session's high-water mark. Producers must defer all work for the pin when
// it would block, keeping the corresponding input unconsumed.
func (p *OutputPin) WouldBlock() bool {
	for _, in := range p.inputPins() {
		if in.len() >= p.f.s.highWaterMark() {
			return true
		}
	}
	return false
}

// Send hands the packet to the pin's consumers. With several consumers every
// consumer beyond the first receives its own clone so that each instance is
// released exactly once. Without consumers the packet is released
// immediately.
func (p *OutputPin) Send(pkt *Packet) {
	// Get consumers
	ins := p.inputPins()

	// No consumers
	if len(ins) == 0 {
		pkt.doRelease()
		return
	}

	// Loop through consumers
	for idx, in := range ins {
		i := pkt
		if idx > 0 {
			i = pkt.clone()
		}
		in.enqueue(i)
	}
}

// SetEOS marks the pin's stream as cleanly ended and wakes consumers up so
// they can drain.
func (p *OutputPin) SetEOS() {
	atomic.StoreUint32(&p.eos, 1)
	for _, in := range p.inputPins() {
		in.f.schedule()
	}
}

func (p *OutputPin) IsEOS() bool {
	return atomic.LoadUint32(&p.eos) > 0
}

// ClearEOS reopens the pin's stream, used when the pin is reused for a new
// source after the previous one drained.
func (p *OutputPin) ClearEOS() {
	atomic.StoreUint32(&p.eos, 0)
}

// Reconfigure re-runs the configure callback of every connected consumer,
// used after the pin's properties changed mid-stream. The first configure
// error is returned.
func (p *OutputPin) Reconfigure() (err error) {
	for _, in := range p.inputPins() {
		if cerr := in.f.configurePin(in, false); cerr != nil && err == nil {
			err = cerr
		}
	}
	return
}

// Remove tears the pin down: every consumer is notified with a removal
// configure and must release its own derived output pins.
func (p *OutputPin) Remove() {
	// Disconnect consumers
	for _, in := range p.inputPins() {
		p.f.s.disconnect(in, true)
	}

	// Remove pin from owner
	p.f.m.Lock()
	for idx := 0; idx < len(p.f.outs); idx++ {
		if p.f.outs[idx] == p {
			p.f.outs = append(p.f.outs[:idx], p.f.outs[idx+1:]...)
			idx--
		}
	}
	p.f.m.Unlock()

	// Emit event
	p.f.s.Emit(EventNamePinRemoved, p)
}

func (p *OutputPin) attach(in *InputPin) {
	p.m.Lock()
	defer p.m.Unlock()
	p.ins = append(p.ins, in)
}

func (p *OutputPin) detach(in *InputPin) {
	p.m.Lock()
	defer p.m.Unlock()
	for idx := 0; idx < len(p.ins); idx++ {
		if p.ins[idx] == in {
			p.ins = append(p.ins[:idx], p.ins[idx+1:]...)
			idx--
		}
	}
}

// InputPin is a consumer endpoint holding a non-owning reference to exactly
// one upstream output pin. The packet queue is the only state shared between
// a filter and its neighbour: all mutation goes through enqueue on the
// producer side and drop on the consumer side.
type InputPin struct {
	f  *Filter
	m  sync.Mutex // Locks q
	q  []*Packet
	up *OutputPin
}

func newInputPin(f *Filter, up *OutputPin) *InputPin {
	return &InputPin{f: f, up: up}
}

func (p *InputPin) Filter() *Filter {
	return p.f
}

func (p *InputPin) Output() *OutputPin {
	return p.up
}

func (p *InputPin) Property(k PropertyKey) (Property, bool) {
	return p.up.Property(k)
}

func (p *InputPin) Properties() *Properties {
	return p.up.Properties()
}

func (p *InputPin) len() int {
	p.m.Lock()
	defer p.m.Unlock()
	return len(p.q)
}

func (p *InputPin) enqueue(pkt *Packet) {
	// Enqueue
	p.m.Lock()
	p.q = append(p.q, pkt)
	p.m.Unlock()

	// Schedule consumer
	p.f.schedule()
}

// Packet peeks at the head of the queue without consuming it. It returns nil
// when no packet is pending.
func (p *InputPin) Packet() *Packet {
	p.m.Lock()
	defer p.m.Unlock()
	if len(p.q) == 0 {
		return nil
	}
	return p.q[0]
}

// DropPacket consumes and releases the head packet. Dropping below the
// high-water mark reschedules the producer so that backpressure unwinds
// transitively.
func (p *InputPin) DropPacket() {
	// Dequeue
	p.m.Lock()
	if len(p.q) == 0 {
		p.m.Unlock()
		return
	}
	pkt := p.q[0]
	p.q = p.q[1:]
	unblocked := len(p.q) == p.f.s.highWaterMark()-1
	p.m.Unlock()

	// Release
	pkt.doRelease()

	// Reschedule producer
	if unblocked {
		p.up.f.schedule()
	}
}

// IsEOS reports whether upstream ended its stream and every pending packet
// has been consumed.
func (p *InputPin) IsEOS() bool {
	return p.up.IsEOS() && p.len() == 0
}

// SendEvent delivers a control event to the upstream filter.
func (p *InputPin) SendEvent(e Event) {
	e.Pin = p
	p.up.f.SendEvent(e)
}

func (p *InputPin) flush() {
	p.m.Lock()
	q := p.q
	p.q = nil
	p.m.Unlock()
	for _, pkt := range q {
		pkt.doRelease()
	}
}
