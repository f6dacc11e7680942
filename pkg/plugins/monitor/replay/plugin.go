package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/asticode/go-astifilter/pkg/astifilter"
	"github.com/asticode/go-astifilter/pkg/plugins/monitor/monitorer"
	"github.com/asticode/go-astikit"
)

var _ astifilter.Plugin = (*Plugin)(nil)

type Plugin struct {
	ctx context.Context
	m   *monitorer.Monitorer
	o   PluginOptions
	s   *astifilter.Session
	w   io.Writer
}

type PluginOptions struct {
	DeltaPeriod time.Duration
	Path        string
}

func New(o PluginOptions) *Plugin {
	return &Plugin{o: o}
}

type initPayload struct {
	Session initPayloadSession `json:"session"`
}

type initPayloadSession struct {
	Description string `json:"description,omitempty"`
	ID          uint64 `json:"id"`
	Name        string `json:"name,omitempty"`
}

func (p *Plugin) Metadata() astifilter.Metadata {
	return astifilter.Metadata{Name: "monitor.replay"}
}

func (p *Plugin) Init(ctx context.Context, c *astikit.Closer, s *astifilter.Session) error {
	// Create file
	file, err := os.Create(p.o.Path)
	if err != nil {
		return fmt.Errorf("replay: creating %s failed: %w", p.o.Path, err)
	}

	// Make sure to close file
	c.AddWithError(file.Close)

	// Create monitorer
	p.m = monitorer.New(monitorer.MonitorerOptions{
		OnDelta: p.onDelta,
		Period:  p.o.DeltaPeriod,
		Session: s,
	})

	// Make sure to close monitorer
	c.Add(p.m.Close)

	// Update plugin
	p.ctx = ctx
	p.s = s
	p.w = file

	// Write init
	p.write(initPayload{Session: initPayloadSession{
		Description: p.s.Metadata().Description,
		ID:          p.s.ID(),
		Name:        p.s.Metadata().Name,
	}})
	return nil
}

func (p *Plugin) Start(ctx context.Context, tc astikit.TaskCreator) {
	// Start monitorer
	tc().Do(func() { p.m.Start(ctx) })
}

func (p *Plugin) onDelta(d monitorer.Delta) {
	p.write(d)
}

func (p *Plugin) write(i interface{}) {
	// Marshal
	b, err := json.Marshal(i)
	if err != nil {
		p.s.Logger().WarnC(p.ctx, fmt.Errorf("replay: marshaling failed: %w", err))
		return
	}

	// Append new line
	b = append(b, []byte("\n")...)

	// Write
	if _, err = p.w.Write(b); err != nil {
		p.s.Logger().WarnC(p.ctx, fmt.Errorf("replay: writing in file failed: %w", err))
		return
	}
}
