package astifilter_test

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestPlugin(t *testing.T) {
	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	p := mocks.NewMockedPlugin()
	s, err := astifilter.NewSession(astifilter.SessionOptions{
		Plugins: []astifilter.Plugin{p},
		Worker:  w,
	})
	require.NoError(t, err)
	defer s.Close()
	require.True(t, p.Initialized)
	require.False(t, p.Started)
	require.NoError(t, s.Start(w.Context()))
	require.True(t, p.Started)

	_, err = astifilter.NewSession(astifilter.SessionOptions{
		Plugins: []astifilter.Plugin{p},
		Worker:  w,
	})
	require.Error(t, err)
}
