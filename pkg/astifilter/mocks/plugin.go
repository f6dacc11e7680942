package mocks

import (
	"context"
	"errors"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astikit"
)

type MockedPlugin struct {
	Context     context.Context
	Initialized bool
	Started     bool
}

var _ astifilter.Plugin = (*MockedPlugin)(nil)

func NewMockedPlugin() *MockedPlugin {
	return &MockedPlugin{}
}

func (p *MockedPlugin) Init(ctx context.Context, c *astikit.Closer, s *astifilter.Session) error {
	p.Context = ctx
	if p.Initialized {
		return errors.New("already initialized")
	}
	p.Initialized = true
	return nil
}

func (p *MockedPlugin) Metadata() astifilter.Metadata {
	return astifilter.Metadata{}
}

func (p *MockedPlugin) Start(ctx context.Context, tc astikit.TaskCreator) {
	p.Started = true
}
