package astifilter_test

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := astifilter.NewRegistry()
	require.Empty(t, r.Names())

	fr := mocks.NewMockedFilterer()
	require.NoError(t, r.Register("mock", func() astifilter.Filterer { return fr }))
	require.NoError(t, r.Register("another", func() astifilter.Filterer { return mocks.NewMockedFilterer() }))
	require.Error(t, r.Register("mock", func() astifilter.Filterer { return fr }))
	require.Equal(t, []string{"another", "mock"}, r.Names())

	got, err := r.NewFilterer("mock")
	require.NoError(t, err)
	require.Equal(t, fr, got)
	_, err = r.NewFilterer("unknown")
	require.Error(t, err)
}

func TestNewFilterFromRegistry(t *testing.T) {
	r := astifilter.NewRegistry()
	fr := mocks.NewMockedFilterer()
	require.NoError(t, r.Register("mock", func() astifilter.Filterer { return fr }))

	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	s, err := astifilter.NewSession(astifilter.SessionOptions{
		Registry: r,
		Worker:   w,
	})
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, r, s.Registry())

	f, _, err := s.NewFilterFromRegistry("mock", astifilter.FilterOptions{Metadata: astifilter.Metadata{Name: "m"}})
	require.NoError(t, err)
	require.Equal(t, fr, f.Filterer())
	require.True(t, fr.Initialized)

	_, _, err = s.NewFilterFromRegistry("unknown", astifilter.FilterOptions{})
	require.Error(t, err)
}
