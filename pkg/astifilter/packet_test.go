package astifilter_test

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/astifilter/mocks"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestNewPacket(t *testing.T) {
	bs := []byte{1, 2, 3}
	p := astifilter.NewPacket(bs)

	// Data is copied
	bs[0] = 4
	require.Equal(t, []byte{1, 2, 3}, p.Data())
	require.Equal(t, 3, p.Size())

	// Defaults
	require.Equal(t, astifilter.NoTimestamp, p.CTS)
	require.Equal(t, astifilter.NoTimestamp, p.DTS)
	require.Equal(t, astifilter.NoTimestamp, p.Duration)
	require.True(t, p.FrameStart)
	require.True(t, p.FrameEnd)
	require.Equal(t, astifilter.SAPNone, p.SAP)
	require.False(t, p.Released())
}

func TestPacketRefIsReleasedExactlyOnce(t *testing.T) {
	var released int
	p := astifilter.NewPacketRef([]byte{1, 2, 3}, func() { released++ })

	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	s, err := astifilter.NewSession(astifilter.SessionOptions{Worker: w})
	require.NoError(t, err)
	defer s.Close()

	src := mocks.NewMockedFilterer()
	_, _, err = s.NewFilter(astifilter.FilterOptions{Filterer: src})
	require.NoError(t, err)
	dst := mocks.NewMockedFilterer()
	_, _, err = s.NewFilter(astifilter.FilterOptions{Filterer: dst})
	require.NoError(t, err)

	out := src.Filter.NewOutputPin()
	in, err := s.Connect(out, dst.Filter)
	require.NoError(t, err)

	out.Send(p)
	require.Same(t, p, in.Packet())
	in.DropPacket()
	require.Equal(t, 1, released)
	require.True(t, p.Released())
	require.Nil(t, p.Data())
	require.Equal(t, 0, p.Size())

	// Dropping an already empty queue is a no-op
	in.DropPacket()
	require.Equal(t, 1, released)
}

func TestPacketSentWithoutConsumerIsReleased(t *testing.T) {
	var released int
	p := astifilter.NewPacketRef([]byte{1}, func() { released++ })

	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	s, err := astifilter.NewSession(astifilter.SessionOptions{Worker: w})
	require.NoError(t, err)
	defer s.Close()

	src := mocks.NewMockedFilterer()
	_, _, err = s.NewFilter(astifilter.FilterOptions{Filterer: src})
	require.NoError(t, err)

	src.Filter.NewOutputPin().Send(p)
	require.Equal(t, 1, released)
}
