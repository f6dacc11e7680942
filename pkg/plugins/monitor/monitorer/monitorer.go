package monitorer

import (
	"context"
	"sync"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

type Delta struct {
	At                  astikit.Timestamp      `json:"at"`
	ConnectedFilters    []DeltaConnection      `json:"connected_filters,omitempty"`
	DisconnectedFilters []DeltaConnection      `json:"disconnected_filters,omitempty"`
	DoneFilters         []uint64               `json:"done_filters,omitempty"`
	NewStats            []DeltaStat            `json:"new_stats,omitempty"`
	StartedFilters      []DeltaFilter          `json:"started_filters,omitempty"`
	StatValues          map[uint64]interface{} `json:"stat_values,omitempty"`
}

func newDelta() *Delta {
	return &Delta{StatValues: make(map[uint64]interface{})}
}

func (d Delta) empty() bool {
	return len(d.ConnectedFilters) == 0 && len(d.DisconnectedFilters) == 0 &&
		len(d.DoneFilters) == 0 && len(d.NewStats) == 0 &&
		len(d.StartedFilters) == 0 && len(d.StatValues) == 0
}

func (d Delta) copy() *Delta {
	dst := newDelta()
	dst.At = d.At
	if len(d.ConnectedFilters) > 0 {
		dst.ConnectedFilters = make([]DeltaConnection, len(d.ConnectedFilters))
		copy(dst.ConnectedFilters, d.ConnectedFilters)
	}
	if len(d.DisconnectedFilters) > 0 {
		dst.DisconnectedFilters = make([]DeltaConnection, len(d.DisconnectedFilters))
		copy(dst.DisconnectedFilters, d.DisconnectedFilters)
	}
	if len(d.DoneFilters) > 0 {
		dst.DoneFilters = make([]uint64, len(d.DoneFilters))
		copy(dst.DoneFilters, d.DoneFilters)
	}
	if len(d.NewStats) > 0 {
		dst.NewStats = make([]DeltaStat, len(d.NewStats))
		copy(dst.NewStats, d.NewStats)
	}
	if len(d.StartedFilters) > 0 {
		dst.StartedFilters = make([]DeltaFilter, len(d.StartedFilters))
		copy(dst.StartedFilters, d.StartedFilters)
	}
	if len(d.StatValues) > 0 {
		dst.StatValues = make(map[uint64]interface{}, len(d.StatValues))
		for k, v := range d.StatValues {
			dst.StatValues[k] = v
		}
	}
	return dst
}

type DeltaConnection struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

type DeltaFilter struct {
	ID       uint64              `json:"id"`
	Metadata astifilter.Metadata `json:"metadata"`
}

type DeltaStat struct {
	FilterID *uint64           `json:"filter_id,omitempty"`
	ID       uint64            `json:"id"`
	Metadata DeltaStatMetadata `json:"metadata"`
}

type DeltaStatMetadata struct {
	Description string `json:"description,omitempty"`
	Label       string `json:"label,omitempty"`
	Name        string `json:"name,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

func newDeltaStatMetadata(i astikit.DeltaStatMetadata) DeltaStatMetadata {
	return DeltaStatMetadata{
		Description: i.Description,
		Label:       i.Label,
		Name:        i.Name,
		Unit:        i.Unit,
	}
}

type DeltaStatValue struct {
	StatID uint64      `json:"stat_id"`
	Value  interface{} `json:"value"`
}

type Monitorer struct {
	cd *Delta // Catchup Delta
	d  *Delta
	ds *astikit.DeltaStater
	mc *sync.Mutex // Locks cd
	md *sync.Mutex // Locks d
	o  MonitorerOptions
}

type OnDelta func(d Delta)

type MonitorerOptions struct {
	OnDelta OnDelta
	Period  time.Duration
	Session *astifilter.Session
}

func New(o MonitorerOptions) *Monitorer {
	// Create monitorer
	m := &Monitorer{
		cd: newDelta(),
		d:  newDelta(),
		mc: &sync.Mutex{},
		md: &sync.Mutex{},
		o:  o,
	}

	// Create Delta stater
	m.ds = astikit.NewDeltaStater(astikit.DeltaStaterOptions{
		OnStats: m.onStats,
		Period:  o.Period,
	})

	// Monitor session
	m.monitorSession()
	return m
}

func (m *Monitorer) monitorSession() {
	// Loop through session delta stats
	for _, ds := range m.o.Session.DeltaStats() {
		// Add to stater
		id := m.ds.Add(ds.Valuer)

		// Create Delta stat
		s := DeltaStat{
			ID:       id,
			Metadata: newDeltaStatMetadata(ds.Metadata),
		}

		// Store stat
		m.mc.Lock()
		m.cd.NewStats = append(m.cd.NewStats, s)
		m.mc.Unlock()
		m.md.Lock()
		m.d.NewStats = append(m.d.NewStats, s)
		m.md.Unlock()
	}

	// Listen to session
	m.o.Session.On(astifilter.EventNameFilterCreated, func(payload interface{}) (delete bool) {
		// Assert payload
		f, ok := payload.(*astifilter.Filter)
		if !ok {
			return
		}

		// Monitor filter
		m.monitorFilter(f)
		return
	})
	m.o.Session.On(astifilter.EventNamePinConnected, func(payload interface{}) (delete bool) {
		// Assert payload
		in, ok := payload.(*astifilter.InputPin)
		if !ok {
			return
		}

		// Store connection
		m.storeConnection(in)
		return
	})
	m.o.Session.On(astifilter.EventNamePinDisconnected, func(payload interface{}) (delete bool) {
		// Assert payload
		in, ok := payload.(*astifilter.InputPin)
		if !ok {
			return
		}

		// Store disconnection
		from := in.Output().Filter().ID()
		to := in.Filter().ID()
		m.mc.Lock()
		for idx := 0; idx < len(m.cd.ConnectedFilters); idx++ {
			if m.cd.ConnectedFilters[idx].From == from && m.cd.ConnectedFilters[idx].To == to {
				m.cd.ConnectedFilters = append(m.cd.ConnectedFilters[:idx], m.cd.ConnectedFilters[idx+1:]...)
				idx--
			}
		}
		m.mc.Unlock()
		m.md.Lock()
		m.d.DisconnectedFilters = append(m.d.DisconnectedFilters, DeltaConnection{
			From: from,
			To:   to,
		})
		m.md.Unlock()
		return
	})
}

func (m *Monitorer) monitorFilter(f *astifilter.Filter) {
	// Loop through filterer delta stats
	var statIDs []uint64
	if v, ok := f.Filterer().(astifilter.DeltaStater); ok {
		for _, ds := range v.DeltaStats() {
			// Add to stater
			statID := m.ds.Add(ds.Valuer)

			// Store stat id
			statIDs = append(statIDs, statID)

			// Create Delta stat
			s := DeltaStat{
				FilterID: astikit.UInt64Ptr(f.ID()),
				ID:       statID,
				Metadata: newDeltaStatMetadata(ds.Metadata),
			}

			// Store stat
			m.mc.Lock()
			m.cd.NewStats = append(m.cd.NewStats, s)
			m.mc.Unlock()
			m.md.Lock()
			m.d.NewStats = append(m.d.NewStats, s)
			m.md.Unlock()
		}
	}

	// Listen to filter
	f.On(astifilter.EventNameFilterRunning, func(payload interface{}) (delete bool) {
		// Create Delta filter
		df := DeltaFilter{
			ID:       f.ID(),
			Metadata: f.Metadata(),
		}

		// Store filter
		m.mc.Lock()
		m.cd.StartedFilters = append(m.cd.StartedFilters, df)
		m.mc.Unlock()
		m.md.Lock()
		m.d.StartedFilters = append(m.d.StartedFilters, df)
		m.md.Unlock()
		return
	})
	f.On(astifilter.EventNameFilterDone, func(payload interface{}) (delete bool) {
		// Remove stats
		m.mc.Lock()
		for _, statID := range statIDs {
			for idx := 0; idx < len(m.cd.NewStats); idx++ {
				if m.cd.NewStats[idx].ID == statID {
					m.cd.NewStats = append(m.cd.NewStats[:idx], m.cd.NewStats[idx+1:]...)
					idx--
				}
			}
		}
		m.mc.Unlock()
		m.ds.Remove(statIDs...)

		// Store filter
		m.mc.Lock()
		for idx := 0; idx < len(m.cd.StartedFilters); idx++ {
			if m.cd.StartedFilters[idx].ID == f.ID() {
				m.cd.StartedFilters = append(m.cd.StartedFilters[:idx], m.cd.StartedFilters[idx+1:]...)
				idx--
			}
		}
		m.mc.Unlock()
		m.md.Lock()
		m.d.DoneFilters = append(m.d.DoneFilters, f.ID())
		m.md.Unlock()
		return
	})
}

func (m *Monitorer) storeConnection(in *astifilter.InputPin) {
	// Create Delta connection
	dc := DeltaConnection{
		From: in.Output().Filter().ID(),
		To:   in.Filter().ID(),
	}

	// Store connection
	m.mc.Lock()
	m.cd.ConnectedFilters = append(m.cd.ConnectedFilters, dc)
	m.mc.Unlock()
	m.md.Lock()
	m.d.ConnectedFilters = append(m.d.ConnectedFilters, dc)
	m.md.Unlock()
}

func (m *Monitorer) Start(ctx context.Context) {
	// Start stater
	m.ds.Start(ctx)
}

func (m *Monitorer) Close() {
	// Stop stater
	m.ds.Stop()
}

func (m *Monitorer) onStats(stats []astikit.DeltaStatValue) {
	// Swap Delta
	m.md.Lock()
	d := *m.d
	m.d = newDelta()
	m.md.Unlock()

	// Update at
	d.At = *astikit.NewTimestamp(astikit.Now())

	// Loop through stats
	m.cd.StatValues = map[uint64]interface{}{}
	for _, s := range stats {
		// Add
		d.StatValues[s.ID] = s.Value
		m.cd.StatValues[s.ID] = s.Value
	}

	// Callback
	if !d.empty() {
		m.o.OnDelta(d)
	}
}

func (m *Monitorer) CatchUp() Delta {
	// Lock
	m.mc.Lock()
	defer m.mc.Unlock()

	// Copy Delta
	d := m.cd.copy()

	// Update at
	d.At = *astikit.NewTimestamp(astikit.Now())
	return *d
}
