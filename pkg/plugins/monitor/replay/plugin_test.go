package replay_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astifilter/pkg/plugins/monitor/replay"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestPlugin(t *testing.T) {
	count := uint64(1)
	defer astikit.MockNow(func() time.Time {
		return time.Unix(int64(atomic.LoadUint64(&count)), 0)
	}).Close()

	w := astikit.NewWorker(astikit.WorkerOptions{})
	path := filepath.Join(t.TempDir(), "monitorer-replay.txt")
	s, err := astifilter.NewSession(astifilter.SessionOptions{
		Metadata: astifilter.Metadata{
			Description: "Description",
			Name:        "Name",
		},
		Plugins: []astifilter.Plugin{replay.New(replay.PluginOptions{
			DeltaPeriod: time.Millisecond,
			Path:        path,
		})},
		Worker: w,
	})
	require.NoError(t, err)
	defer s.Close()

	sm := astikit.DeltaStatMetadata{Name: "n"}
	fr := mocks.NewMockedFilterer()
	fr.OnDeltaStats = []astikit.DeltaStat{{
		Metadata: sm,
		Valuer: astikit.DeltaStatValuerFunc(func(d time.Duration) interface{} {
			w.Stop()
			return 1
		}),
	}}
	_, _, err = s.NewFilter(astifilter.FilterOptions{
		Filterer: fr,
		Metadata: astifilter.Metadata{Name: "n"},
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(w.Context()))

	require.Eventually(t, func() bool { return s.Status() == astifilter.StatusDone }, time.Second, 10*time.Millisecond)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"session":{"description":"Description","id":1,"name":"Name"}}
{"at":1,"new_stats":[{"filter_id":1,"id":1,"metadata":{"name":"n"}}],"started_filters":[{"id":1,"metadata":{"name":"n"}}],"stat_values":{"1":1}}
`, string(b))
}
