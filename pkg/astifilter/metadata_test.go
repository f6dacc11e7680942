package astifilter_test

import (
	"testing"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/stretchr/testify/require"
)

func TestMetadata(t *testing.T) {
	m1 := astifilter.Metadata{
		Description: "d1",
		Name:        "n1",
		Tags:        []string{"t1"},
	}
	m1.Merge(astifilter.Metadata{Description: "d2"})
	require.Equal(t, "d2", m1.Description)
	m1.Merge(astifilter.Metadata{Name: "n2"})
	require.Equal(t, "n2", m1.Name)
	m1.Merge(astifilter.Metadata{Tags: []string{"t2", "t1"}})
	require.Equal(t, []string{"t1", "t2"}, m1.Tags)
}
