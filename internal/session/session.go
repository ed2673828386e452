package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	config "github.com/mwantia/clickpoints/internal/config/app"
	"github.com/mwantia/clickpoints/pkg/db/store"
	"github.com/mwantia/clickpoints/pkg/db/undo"
	"github.com/mwantia/clickpoints/pkg/display"
	"github.com/mwantia/clickpoints/pkg/export"
	"github.com/mwantia/clickpoints/pkg/framebuffer"
	"github.com/mwantia/clickpoints/pkg/log"
	"github.com/mwantia/clickpoints/pkg/markers"
	"github.com/mwantia/clickpoints/pkg/mask"
	"github.com/mwantia/clickpoints/pkg/media"
	"github.com/mwantia/clickpoints/pkg/options"
	"github.com/mwantia/clickpoints/pkg/pipeline"
	"github.com/mwantia/clickpoints/pkg/timeline"
	"github.com/mwantia/fabric/pkg/container"
)

// ErrNoFrame is returned by edits before the first frame was loaded.
var ErrNoFrame = errors.New("no frame loaded")

// OpenOptions select what a session opens.
type OpenOptions struct {
	// Args are project files, directories, globs, media files and frame lists.
	Args []string
	// Overrides are option values given as -key=value.
	Overrides map[string]string
	// Builder composes the modules; nil uses DefaultBuilder.
	Builder *Builder
}

// Session owns an open project and the modules following its frames.
type Session struct {
	mu      sync.Mutex
	base    context.Context
	c       *Context
	modules []Module
	loader  *Loader
	pacer   *timeline.Pacer
	log     log.LoggerService
}

// Open opens or creates a project, adds the given files and builds the modules.
func Open(ctx context.Context, cfg *config.BaseConfig, logger log.LoggerService, oo OpenOptions) (*Session, error) {
	if logger == nil {
		logger = log.Discard()
	}
	src, err := Classify(oo.Args)
	if err != nil {
		return nil, err
	}

	sc := container.NewServiceContainer()
	s := &Session{base: context.WithoutCancel(ctx), log: logger}
	s.c = &Context{Config: cfg, Services: sc, Log: logger}

	if err := s.setupServices(ctx, src); err != nil {
		sc.Cleanup(ctx)
		return nil, err
	}

	if err := s.setup(ctx, src, oo); err != nil {
		if s.c.Store != nil {
			s.c.Store.Discard()
		}
		sc.Cleanup(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Session) setupServices(ctx context.Context, src Sources) error {
	errs := container.Errors{}

	s.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](s.c.Services,
		container.With[log.LoggerService](),
		container.WithInstance(s.log)))
	if err := errs.Errors(); err != nil {
		return err
	}

	st, err := store.Open(ctx, store.SQLiteConfig{
		Path:         src.Project,
		TmpDir:       s.c.Config.TmpDir,
		AllowUpgrade: true,
		Logger:       s.c.Logger(ctx, "store"),
	})
	if err != nil {
		return err
	}
	s.c.Store = st
	s.c.Options = options.New(st, s.c.Logger(ctx, "options"))

	s.log.Debug("Registering 'Store'...")
	errs.Add(container.Register[store.SQLiteStore](s.c.Services,
		container.With[store.Store](),
		container.WithInstance(st)))
	s.log.Debug("Registering 'Options'...")
	errs.Add(container.Register[options.Options](s.c.Services,
		container.WithInstance(s.c.Options)))

	if err := errs.Errors(); err != nil {
		st.Discard()
		s.c.Store = nil
		return err
	}
	return nil
}

func (s *Session) setup(ctx context.Context, src Sources, oo OpenOptions) error {
	c := s.c
	if src.Project != "" {
		if err := c.Store.ApplyReplacements(ctx); err != nil {
			return err
		}
	}
	if err := c.Options.Load(ctx); err != nil {
		return err
	}
	if err := c.Options.Apply(ctx, oo.Overrides); err != nil {
		return err
	}

	parser, err := media.NewTimestampParser(
		c.Options.StringList(options.KeyTimestampFormats),
		c.Options.StringList(options.KeyTimestampFormats2))
	if err != nil {
		return fmt.Errorf("invalid timestamp format: %w", err)
	}
	s.loader = NewLoader(c.Store, parser, c.Logger(ctx, "loader"))
	if _, _, err := s.loader.Add(ctx, src); err != nil {
		return err
	}

	bufferCfg, err := s.bufferConfig()
	if err != nil {
		return err
	}
	c.Pipeline = pipeline.New(c.Store, framebuffer.New(bufferCfg, c.Logger(ctx, "buffer")), c.Logger(ctx, "pipeline"))
	c.Display = display.New(c.Options, c.Logger(ctx, "display"))
	c.Pipeline.SetSink(c.Display)

	c.Timeline = timeline.New(c.Logger(ctx, "timeline"))
	c.Timeline.SetFPS(c.Options.Float(options.KeyFPS))
	c.Timeline.SetSkip(c.Options.Int(options.KeySkip))
	if err := s.refreshTimeline(ctx); err != nil {
		return err
	}
	s.pacer = timeline.NewPacer(c.Timeline.FPS())

	builder := oo.Builder
	if builder == nil {
		builder = DefaultBuilder()
	}
	modules, err := builder.Build(ctx, c)
	if err != nil {
		return err
	}
	s.modules = modules

	obs := &fanout{s: s}
	c.Pipeline.Observe(obs)
	c.Pipeline.OnSave(obs)
	c.Options.Subscribe(func(key string) {
		for _, m := range s.snapshot() {
			m.OnOptionsChanged(s.base, key)
		}
	})

	if c.Store.Temporary() {
		if err := c.Store.MarkSaved(ctx); err != nil {
			return err
		}
	}

	if c.Config.Undo.Enabled {
		c.Journal = undo.NewJournal(c.Store.DB(), c.Config.Undo.Tables, c.Logger(ctx, "undo"))
		if err := c.Journal.Activate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// bufferConfig reads the frame buffer options, falling back to the process
// configuration for values the project does not set.
func (s *Session) bufferConfig() (framebuffer.Config, error) {
	o, defaults := s.c.Options, s.c.Config.Buffer
	mode, count, memory := defaults.Mode, defaults.Count, defaults.Memory
	if o.IsSet(options.KeyBufferMode) || mode == "" {
		mode = o.String(options.KeyBufferMode)
	}
	if o.IsSet(options.KeyBufferSize) || count == 0 {
		count = o.Int(options.KeyBufferSize)
	}
	if o.IsSet(options.KeyBufferMemory) || memory == "" {
		memory = o.String(options.KeyBufferMemory)
	}
	return framebuffer.ParseConfig(mode, count, memory)
}

func (s *Session) refreshTimeline(ctx context.Context) error {
	n, err := s.c.Pipeline.Len(ctx)
	if err != nil {
		return err
	}
	x := s.c.Timeline
	x.SetLength(n)
	x.SetRangeOption(s.c.Options.Float(options.KeyPlayStart), s.c.Options.Float(options.KeyPlayEnd))
	return s.refreshTicks(ctx)
}

func (s *Session) refreshTicks(ctx context.Context) error {
	layer, err := s.c.Pipeline.Layer(ctx)
	if err != nil {
		return err
	}
	return s.c.Timeline.Refresh(ctx, s.c.Store, layer.ID)
}

func (s *Session) snapshot() []Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modules
}

// fanout forwards pipeline events to the modules in build order.
type fanout struct {
	s *Session
}

func (f *fanout) OnFrameChanged(ctx context.Context, fr *pipeline.Frame) {
	for _, m := range f.s.snapshot() {
		m.OnFrameChanged(ctx, fr)
	}
}

func (f *fanout) OnImageLoaded(ctx context.Context, fr *pipeline.Frame) {
	for _, m := range f.s.snapshot() {
		m.OnImageLoaded(ctx, fr)
	}
}

func (f *fanout) Save(ctx context.Context) error {
	return f.s.saveModules(ctx)
}

func (s *Session) saveModules(ctx context.Context) error {
	var errs []error
	for _, m := range s.snapshot() {
		if err := m.Save(ctx); err != nil {
			errs = append(errs, fmt.Errorf("module '%s': %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Context returns the shared services.
func (s *Session) Context() *Context {
	return s.c
}

// Module returns the module called name.
func (s *Session) Module(name string) (Module, bool) {
	for _, m := range s.snapshot() {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// Markers returns the marker model, nil without the markers module.
func (s *Session) Markers() *markers.Model {
	if m, ok := s.Module("markers"); ok {
		if mm, ok := m.(*markerModule); ok {
			return mm.model
		}
	}
	return nil
}

// Mask returns the mask engine, nil without the mask module.
func (s *Session) Mask() *mask.Engine {
	if m, ok := s.Module("mask"); ok {
		if mm, ok := m.(*maskModule); ok {
			return mm.engine
		}
	}
	return nil
}

// AddFiles adds media files, directories, globs and frame lists to the project.
func (s *Session) AddFiles(ctx context.Context, args []string) (int, error) {
	src, err := Classify(args)
	if err != nil {
		return 0, err
	}
	if src.Project != "" {
		return 0, fmt.Errorf("%w: '%s'", ErrProjectConflict, src.Project)
	}
	added, _, err := s.loader.Add(ctx, src)
	if err != nil {
		return added, err
	}
	return added, s.refreshTimeline(ctx)
}

// Len returns the number of frames of the current layer.
func (s *Session) Len(ctx context.Context) (int, error) {
	return s.c.Pipeline.Len(ctx)
}

// JumpTo loads the frame at sortIndex; indices outside the sequence wrap.
func (s *Session) JumpTo(ctx context.Context, sortIndex int) (*pipeline.Frame, error) {
	return s.c.Pipeline.LoadFrame(ctx, sortIndex)
}

// Next loads the frame skip positions ahead.
func (s *Session) Next(ctx context.Context) (*pipeline.Frame, error) {
	return s.c.Pipeline.Step(ctx, s.c.Timeline.Skip())
}

// Prev loads the frame skip positions back.
func (s *Session) Prev(ctx context.Context) (*pipeline.Frame, error) {
	return s.c.Pipeline.Step(ctx, -s.c.Timeline.Skip())
}

// JumpToTick loads the next frame carrying a tick of kinds.
func (s *Session) JumpToTick(ctx context.Context, back bool, kinds ...timeline.Kind) (*pipeline.Frame, error) {
	target := s.c.Timeline.NextTick(s.c.Pipeline.Current(), back, kinds...)
	return s.c.Pipeline.LoadFrame(ctx, target)
}

// Request queues an asynchronous jump served by Serve. A newer request
// supersedes one still loading.
func (s *Session) Request(sortIndex int) {
	s.c.Pipeline.JumpTo(sortIndex)
}

// Serve loads requested frames until ctx is cancelled.
func (s *Session) Serve(ctx context.Context) error {
	return s.c.Pipeline.Run(ctx)
}

// NextLayer cycles the shown layer by delta and updates the timeline length.
func (s *Session) NextLayer(ctx context.Context, delta int) (*pipeline.Frame, error) {
	frame, err := s.c.Pipeline.NextLayer(ctx, delta)
	if err != nil {
		return nil, err
	}
	return frame, s.refreshTimeline(ctx)
}

// Play steps through the play range until ctx is cancelled.
func (s *Session) Play(ctx context.Context) error {
	return s.c.Timeline.Play(ctx, s.pacer, func(ctx context.Context, sortIndex int) error {
		_, err := s.c.Pipeline.LoadFrame(ctx, sortIndex)
		return err
	})
}

// Resize forwards the size of the view to the modules.
func (s *Session) Resize(size image.Point) {
	for _, m := range s.snapshot() {
		m.OnResize(size)
	}
}

// RealTime returns the timestamp index of the current layer.
func (s *Session) RealTime(ctx context.Context) (*timeline.RealTime, error) {
	layer, err := s.c.Pipeline.Layer(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.c.Store.Timestamps(ctx, layer.ID)
	if err != nil {
		return nil, err
	}
	return timeline.NewRealTime(entries), nil
}

// Edit runs fn as one undoable action.
func (s *Session) Edit(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if j := s.c.Journal; j != nil && j.Active() {
		if berr := j.Barrier(ctx, label); berr != nil {
			return errors.Join(err, berr)
		}
	}
	return err
}

// Undo reverts the last action and reloads the shown frame.
func (s *Session) Undo(ctx context.Context) error {
	return s.replay(ctx, (*undo.Journal).Undo)
}

// Redo reapplies the last undone action.
func (s *Session) Redo(ctx context.Context) error {
	return s.replay(ctx, (*undo.Journal).Redo)
}

func (s *Session) replay(ctx context.Context, fn func(*undo.Journal, context.Context) error) error {
	j := s.c.Journal
	if j == nil {
		return undo.ErrInactive
	}
	if err := s.saveModules(ctx); err != nil {
		return err
	}
	if err := fn(j, ctx); err != nil {
		return err
	}
	if err := s.refreshTicks(ctx); err != nil {
		return err
	}
	if s.c.Pipeline.Current() < 0 {
		return nil
	}
	_, err := s.c.Pipeline.Reload(ctx)
	return err
}

// Annotate stores the annotation of the shown image.
func (s *Session) Annotate(ctx context.Context, comment string, rating int, tags []string) error {
	m, ok := s.Module("annotations")
	if !ok {
		return fmt.Errorf("annotations module not loaded")
	}
	return s.Edit(ctx, "annotation", func(ctx context.Context) error {
		_, err := m.(*annotationModule).Set(ctx, comment, rating, tags)
		return err
	})
}

// Export writes the play range using the export options.
func (s *Session) Export(ctx context.Context, progress export.ProgressFunc) (export.Result, error) {
	if err := s.saveModules(ctx); err != nil {
		return export.Result{}, err
	}
	cfg := export.ConfigFromOptions(s.c.Options, s.c.Timeline)
	if !filepath.IsAbs(cfg.Filename) {
		cfg.Filename = filepath.Join(s.c.Store.Dir(), cfg.Filename)
	}
	if layer, err := s.c.Pipeline.Layer(ctx); err == nil {
		cfg.LayerID = layer.ID
	}

	var overlay export.Overlay
	if m := s.Markers(); m != nil {
		overlay = m
	}
	e := export.New(s.c.Pipeline, overlay, s.c.Logger(ctx, "export"))
	return e.Run(ctx, cfg, progress)
}

// Check verifies the marker invariants, repairing violations unless the
// debug option is set.
func (s *Session) Check(ctx context.Context) (markers.Report, error) {
	m := s.Markers()
	if m == nil {
		return markers.Report{}, fmt.Errorf("markers module not loaded")
	}
	if err := s.saveModules(ctx); err != nil {
		return markers.Report{}, err
	}
	report, err := m.Check(ctx)
	if err != nil {
		return report, err
	}
	if !report.Empty() {
		s.log.Warn("Repaired %d unpaired markers, %d duplicate track points and %d empty tracks",
			len(report.Unpaired), len(report.DuplicatePoints), report.EmptyTracks)
		if err := s.refreshTicks(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// Save writes pending module edits.
func (s *Session) Save(ctx context.Context) error {
	if err := s.saveModules(ctx); err != nil {
		return err
	}
	return s.c.Store.MarkSaved(ctx)
}

// SaveAs writes the project to path and continues on the new file.
func (s *Session) SaveAs(ctx context.Context, path string) error {
	if err := s.saveModules(ctx); err != nil {
		return err
	}
	if err := s.c.Store.SaveAs(ctx, path); err != nil {
		return err
	}
	if j := s.c.Journal; j != nil {
		j.Rebind(s.c.Store.DB())
		if err := j.Activate(ctx); err != nil {
			return err
		}
	}
	s.log.Info("Project saved as '%s'", s.c.Store.Path())
	return nil
}

// Summary describes an open project.
type Summary struct {
	Project   string
	Temporary bool
	Frames    int
	Current   int
	Counts    map[string]int64
}

func (s *Session) Summary(ctx context.Context) (Summary, error) {
	n, err := s.Len(ctx)
	if err != nil {
		return Summary{}, err
	}
	counts, err := s.c.Store.Stats(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Project:   s.c.Store.Path(),
		Temporary: s.c.Store.Temporary(),
		Frames:    n,
		Current:   s.c.Pipeline.Current(),
		Counts:    counts,
	}, nil
}

// Watch adds the files of forwarded invocations until ctx is cancelled.
func (s *Session) Watch(ctx context.Context, lock *Lock) error {
	return lock.Watch(ctx, func(args []string) {
		added, err := s.AddFiles(ctx, args)
		if err != nil {
			s.log.Error("Unable to add forwarded files: %v", err)
			return
		}
		s.log.Info("Added %d frames from forwarded invocation", added)
	})
}

// Close saves module state and closes the project. A modified temporary
// project returns store.ErrUnsavedChanges unless discard is set.
func (s *Session) Close(ctx context.Context, discard bool) error {
	if err := s.saveModules(ctx); err != nil {
		return err
	}
	if !discard && s.c.Store.Temporary() {
		if dirty, err := s.c.Store.Dirty(ctx); err == nil && dirty {
			return store.ErrUnsavedChanges
		}
	}

	var errs []error
	for _, m := range s.snapshot() {
		if err := m.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("module '%s': %w", m.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if j := s.c.Journal; j != nil && j.Active() {
		if err := j.Deactivate(ctx); err != nil {
			s.log.Warn("Unable to deactivate undo journal: %v", err)
		}
	}

	if discard {
		if err := s.c.Store.Discard(); err != nil {
			return err
		}
	} else if err := s.c.Store.Close(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.modules = nil
	s.mu.Unlock()

	if err := s.c.Pipeline.Close(); err != nil {
		return err
	}
	if err := s.c.Services.Cleanup(ctx); err != nil {
		return fmt.Errorf("failed to complete service container cleanup: %w", err)
	}
	return nil
}
