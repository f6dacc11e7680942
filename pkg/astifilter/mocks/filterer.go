package mocks

import (
	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

type MockedFilterer struct {
	Filter         *astifilter.Filter
	Finalized      bool
	Initialized    bool
	OnConfigurePin func(p *astifilter.InputPin, isRemove bool) error
	OnDeltaStats   []astikit.DeltaStat
	OnProcess      func() error
	OnProcessEvent func(e astifilter.Event) bool
	OnUpdateArg    func(name string, v astifilter.Property) error
}

var _ astifilter.Filterer = (*MockedFilterer)(nil)
var _ astifilter.DeltaStater = (*MockedFilterer)(nil)

func NewMockedFilterer() *MockedFilterer {
	return &MockedFilterer{}
}

func (fr *MockedFilterer) Initialize(f *astifilter.Filter) error {
	fr.Filter = f
	fr.Initialized = true
	return nil
}

func (fr *MockedFilterer) Finalize() {
	fr.Finalized = true
}

func (fr *MockedFilterer) ConfigurePin(p *astifilter.InputPin, isRemove bool) error {
	if fr.OnConfigurePin != nil {
		return fr.OnConfigurePin(p, isRemove)
	}
	return nil
}

func (fr *MockedFilterer) Process() error {
	if fr.OnProcess != nil {
		return fr.OnProcess()
	}
	return nil
}

func (fr *MockedFilterer) ProcessEvent(e astifilter.Event) bool {
	if fr.OnProcessEvent != nil {
		return fr.OnProcessEvent(e)
	}
	return false
}

func (fr *MockedFilterer) DeltaStats() []astikit.DeltaStat {
	return fr.OnDeltaStats
}

func (fr *MockedFilterer) UpdateArg(name string, v astifilter.Property) error {
	if fr.OnUpdateArg != nil {
		return fr.OnUpdateArg(name, v)
	}
	return nil
}
