package session

import (
	"context"
	"fmt"
	"image"

	config "github.com/mwantia/clickpoints/internal/config/app"
	"github.com/mwantia/clickpoints/pkg/db/store"
	"github.com/mwantia/clickpoints/pkg/db/undo"
	"github.com/mwantia/clickpoints/pkg/display"
	"github.com/mwantia/clickpoints/pkg/log"
	"github.com/mwantia/clickpoints/pkg/options"
	"github.com/mwantia/clickpoints/pkg/pipeline"
	"github.com/mwantia/clickpoints/pkg/timeline"
	"github.com/mwantia/fabric/pkg/container"
)

// Module is a part of the session that follows the shown frame.
type Module interface {
	Name() string
	// OnFrameChanged is called once the target frame is known, before its pixels.
	OnFrameChanged(ctx context.Context, f *pipeline.Frame)
	OnImageLoaded(ctx context.Context, f *pipeline.Frame)
	OnResize(size image.Point)
	OnOptionsChanged(ctx context.Context, key string)
	Save(ctx context.Context) error
	Close(ctx context.Context) error
}

// Context carries the shared services a module is built from.
type Context struct {
	Config   *config.BaseConfig
	Store    store.Store
	Options  *options.Options
	Pipeline *pipeline.Pipeline
	Timeline *timeline.Index
	Display  *display.Adapter
	Journal  *undo.Journal
	Services *container.ServiceContainer
	Log      log.LoggerService
}

// Logger returns the named logger of a module.
func (c *Context) Logger(ctx context.Context, name string) log.LoggerService {
	if c.Services != nil {
		if l, err := log.FromContainer(ctx, c.Services, name); err == nil {
			return l
		}
	}
	if c.Log == nil {
		return log.Discard()
	}
	return c.Log.Named(name)
}

// Factory creates a module.
type Factory func(ctx context.Context, c *Context) (Module, error)

type entry struct {
	name    string
	factory Factory
}

// Builder composes modules in registration order.
type Builder struct {
	entries []entry
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Add(name string, f Factory) *Builder {
	b.entries = append(b.entries, entry{name: name, factory: f})
	return b
}

// Build creates every module. Modules built before a failure are closed.
func (b *Builder) Build(ctx context.Context, c *Context) ([]Module, error) {
	errs := container.Errors{}

	modules := make([]Module, 0, len(b.entries))
	for _, e := range b.entries {
		c.Log.Debug("Building module '%s'...", e.name)
		m, err := e.factory(ctx, c)
		if err != nil {
			errs.Add(fmt.Errorf("module '%s': %w", e.name, err))
			continue
		}
		modules = append(modules, m)
	}

	if err := errs.Errors(); err != nil {
		for i := len(modules) - 1; i >= 0; i-- {
			modules[i].Close(ctx)
		}
		return nil, err
	}
	return modules, nil
}
