package monitorer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestMonitorer(t *testing.T) {
	count := uint64(1)
	defer astikit.MockNow(func() time.Time {
		return time.Unix(int64(atomic.LoadUint64(&count)), 0)
	}).Close()

	w := astikit.NewWorker(astikit.WorkerOptions{})
	sm1 := astikit.DeltaStatMetadata{Name: "n1"}
	s, err := astifilter.NewSession(astifilter.SessionOptions{
		DeltaStats: []astikit.DeltaStat{{
			Metadata: sm1,
			Valuer:   astikit.DeltaStatValuerFunc(func(d time.Duration) interface{} { return int(atomic.LoadUint64(&count)) }),
		}},
		Worker: w,
	})
	require.NoError(t, err)
	defer s.Close()

	var deltas []Delta
	var catchupDeltas []Delta
	sm2 := astikit.DeltaStatMetadata{Name: "n2"}
	fr1 := mocks.NewMockedFilterer()
	fr1.OnDeltaStats = []astikit.DeltaStat{{
		Metadata: sm2,
		Valuer:   astikit.DeltaStatValuerFunc(func(d time.Duration) interface{} { return int(atomic.LoadUint64(&count)) + 1 }),
	}}
	fm1 := astifilter.Metadata{Name: "f1"}
	sm3 := astikit.DeltaStatMetadata{Name: "n3"}
	fr2 := mocks.NewMockedFilterer()
	fr2.OnDeltaStats = []astikit.DeltaStat{{
		Metadata: sm3,
		Valuer:   astikit.DeltaStatValuerFunc(func(d time.Duration) interface{} { return int(atomic.LoadUint64(&count)) + 2 }),
	}}
	fm2 := astifilter.Metadata{Name: "f2"}
	var m *Monitorer
	fn := func(d Delta) {
		// Sort
		astikit.SortUint64(d.DoneFilters)

		// Store
		catchupDeltas = append(catchupDeltas, m.CatchUp())
		deltas = append(deltas, d)

		// Switch
		switch atomic.AddUint64(&count, 1) {
		case 2:
		case 3:
			_, _, err = s.NewFilter(astifilter.FilterOptions{
				Filterer: fr1,
				Metadata: fm1,
			})
			require.NoError(t, err)
			_, _, err = s.NewFilter(astifilter.FilterOptions{
				Filterer: fr2,
				Metadata: fm2,
			})
			require.NoError(t, err)
			out := fr1.Filter.NewOutputPin()
			_, err = s.Connect(out, fr2.Filter)
			require.NoError(t, err)
			require.NoError(t, s.Start(w.Context()))
			require.Eventually(t, func() bool {
				return fr1.Filter.Status() == astifilter.StatusRunning && fr2.Filter.Status() == astifilter.StatusRunning
			}, time.Second, 10*time.Millisecond)
		case 4:
			require.NoError(t, s.Stop())
			require.Eventually(t, func() bool { return s.Status() == astifilter.StatusDone }, time.Second, 10*time.Millisecond)
		default:
			w.Stop()
		}
	}
	m = New(MonitorerOptions{
		OnDelta: fn,
		Period:  time.Millisecond,
		Session: s,
	})
	defer m.Close()

	m.Start(w.Context())

	require.Eventually(t, func() bool { return s.Status() == astifilter.StatusDone }, 2*time.Second, 10*time.Millisecond)
	w.Wait()
	require.Equal(t, []Delta{
		{
			At: *astikit.NewTimestamp(time.Unix(1, 0)),
			NewStats: []DeltaStat{{
				ID:       1,
				Metadata: newDeltaStatMetadata(sm1),
			}},
			StatValues: map[uint64]interface{}{1: 1},
		},
		{
			At:         *astikit.NewTimestamp(time.Unix(2, 0)),
			StatValues: map[uint64]interface{}{1: 2},
		},
		{
			At: *astikit.NewTimestamp(time.Unix(3, 0)),
			ConnectedFilters: []DeltaConnection{{
				From: 1,
				To:   2,
			}},
			NewStats: []DeltaStat{
				{
					FilterID: astikit.UInt64Ptr(1),
					ID:       2,
					Metadata: newDeltaStatMetadata(sm2),
				},
				{
					FilterID: astikit.UInt64Ptr(2),
					ID:       3,
					Metadata: newDeltaStatMetadata(sm3),
				},
			},
			StartedFilters: []DeltaFilter{
				{
					ID:       1,
					Metadata: fm1,
				},
				{
					ID:       2,
					Metadata: fm2,
				},
			},
			StatValues: map[uint64]interface{}{
				1: 3,
				2: 4,
				3: 5,
			},
		},
		{
			At: *astikit.NewTimestamp(time.Unix(4, 0)),
			DisconnectedFilters: []DeltaConnection{{
				From: 1,
				To:   2,
			}},
			DoneFilters: []uint64{1, 2},
			StatValues:  map[uint64]interface{}{1: 4},
		},
	}, deltas)
	require.Equal(t, []Delta{
		{
			At: *astikit.NewTimestamp(time.Unix(1, 0)),
			NewStats: []DeltaStat{{
				ID:       1,
				Metadata: newDeltaStatMetadata(sm1),
			}},
			StatValues: map[uint64]interface{}{1: 1},
		},
		{
			At: *astikit.NewTimestamp(time.Unix(2, 0)),
			NewStats: []DeltaStat{{
				ID:       1,
				Metadata: newDeltaStatMetadata(sm1),
			}},
			StatValues: map[uint64]interface{}{1: 2},
		},
		{
			At: *astikit.NewTimestamp(time.Unix(3, 0)),
			ConnectedFilters: []DeltaConnection{{
				From: 1,
				To:   2,
			}},
			NewStats: []DeltaStat{
				{
					ID:       1,
					Metadata: newDeltaStatMetadata(sm1),
				},
				{
					FilterID: astikit.UInt64Ptr(1),
					ID:       2,
					Metadata: newDeltaStatMetadata(sm2),
				},
				{
					FilterID: astikit.UInt64Ptr(2),
					ID:       3,
					Metadata: newDeltaStatMetadata(sm3),
				},
			},
			StartedFilters: []DeltaFilter{
				{
					ID:       1,
					Metadata: fm1,
				},
				{
					ID:       2,
					Metadata: fm2,
				},
			},
			StatValues: map[uint64]interface{}{
				1: 3,
				2: 4,
				3: 5,
			},
		},
		{
			At: *astikit.NewTimestamp(time.Unix(4, 0)),
			NewStats: []DeltaStat{{
				ID:       1,
				Metadata: newDeltaStatMetadata(sm1),
			}},
			StatValues: map[uint64]interface{}{1: 4},
		},
	}, catchupDeltas)
}
