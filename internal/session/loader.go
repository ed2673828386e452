package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/clickpoints/pkg/db/store"
	"github.com/mwantia/clickpoints/pkg/log"
	"github.com/mwantia/clickpoints/pkg/media"
)

var (
	// ErrNoSources is returned when the arguments name nothing loadable.
	ErrNoSources = errors.New("no loadable files found")
	// ErrProjectConflict is returned for more than one project file.
	ErrProjectConflict = errors.New("only one project file can be opened")
)

// frameListLayout is the timestamp format of frame list entries.
const frameListLayout = "20060102-150405"

// multiFrame lists the extensions whose files are opened to count frames.
var multiFrame = []string{".avi", ".gif", ".tif", ".tiff"}

// Sources is the classified command line input.
type Sources struct {
	Project string
	Files   []string
	Lists   []string
}

func (s Sources) Empty() bool {
	return len(s.Files) == 0 && len(s.Lists) == 0
}

// Classify sorts arguments into a project file, media files and frame lists.
// Directories contribute their media files in name order; globs are expanded.
func Classify(args []string) (Sources, error) {
	var src Sources
	for _, arg := range args {
		matches := []string{arg}
		if strings.ContainsAny(arg, "*?[") {
			var err error
			if matches, err = filepath.Glob(arg); err != nil {
				return src, fmt.Errorf("invalid pattern '%s': %w", arg, err)
			}
			slices.Sort(matches)
		}

		for _, p := range matches {
			abs, err := filepath.Abs(p)
			if err != nil {
				return src, err
			}
			if err := src.add(abs); err != nil {
				return src, err
			}
		}
	}
	return src, nil
}

func (s *Sources) add(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) && strings.EqualFold(filepath.Ext(path), ".cdb") {
		return s.setProject(path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("failed to read directory '%s': %w", path, err)
		}
		for _, e := range entries {
			if !e.IsDir() && media.IsMediaFile(e.Name()) {
				s.Files = append(s.Files, filepath.Join(path, e.Name()))
			}
		}
		return nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cdb":
		return s.setProject(path)
	case ".txt":
		s.Lists = append(s.Lists, path)
	default:
		if !media.IsMediaFile(path) {
			return fmt.Errorf("%w: %s", media.ErrUnsupportedFormat, filepath.Base(path))
		}
		s.Files = append(s.Files, path)
	}
	return nil
}

// setProject selects the project file; a missing file is created on open.
func (s *Sources) setProject(path string) error {
	if s.Project != "" && s.Project != path {
		return fmt.Errorf("%w: '%s' and '%s'", ErrProjectConflict, s.Project, path)
	}
	s.Project = path
	return nil
}

// ListEntry is one line of a frame list.
type ListEntry struct {
	Path       string
	Timestamp  *time.Time
	ExternalID *int
}

// ReadFrameList parses a frame list. Each line holds a path relative to the
// list, optionally followed by a YYYYMMDD-HHMMSS timestamp and external ids.
func ReadFrameList(path string) ([]ListEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dir := filepath.Dir(path)
	var entries []ListEntry
	scanner := bufio.NewScanner(f)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		entry := ListEntry{Path: fields[0]}
		if !filepath.IsAbs(entry.Path) {
			entry.Path = filepath.Join(dir, entry.Path)
		}
		for _, field := range fields[1:] {
			if t, err := time.ParseInLocation(frameListLayout, field, time.Local); err == nil && entry.Timestamp == nil {
				entry.Timestamp = &t
				continue
			}
			id, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: invalid field '%s'", filepath.Base(path), n, field)
			}
			if entry.ExternalID == nil {
				entry.ExternalID = &id
			}
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Loader turns files into image rows.
type Loader struct {
	st     store.Store
	parser *media.TimestampParser
	open   func(path string) (media.Reader, error)
	yield  store.Yield
	log    log.LoggerService
}

func NewLoader(st store.Store, parser *media.TimestampParser, logger log.LoggerService) *Loader {
	if logger == nil {
		logger = log.Discard()
	}
	return &Loader{st: st, parser: parser, open: media.Open, log: logger}
}

// SetYield installs the function called between insert chunks.
func (l *Loader) SetYield(fn store.Yield) {
	l.yield = fn
}

// Inputs lists one input per frame of path.
func (l *Loader) Inputs(path string) []store.ImageInput {
	base := store.ImageInput{
		Dir:      filepath.Dir(path),
		Filename: filepath.Base(path),
		Ext:      strings.ToLower(filepath.Ext(path)),
	}
	if !slices.Contains(multiFrame, base.Ext) {
		in := base
		in.Timestamp = l.timestamp(path, nil, 0)
		return []store.ImageInput{in}
	}

	r, err := l.open(path)
	if err != nil {
		l.log.Warn("Unable to open '%s': %v", path, err)
		return []store.ImageInput{base}
	}
	defer r.Close()

	n := max(r.Len(), 1)
	inputs := make([]store.ImageInput, n)
	for i := range inputs {
		in := base
		in.Frame = i
		in.Timestamp = l.timestamp(path, r, i)
		inputs[i] = in
	}
	if n > 1 {
		l.log.Debug("'%s' holds %d frames", base.Filename, n)
	}
	return inputs
}

func (l *Loader) timestamp(path string, r media.Reader, frame int) *time.Time {
	if l.parser == nil {
		return nil
	}
	return l.parser.FrameTimestamp(path, r, frame)
}

// Add inserts the files and frame lists of src. Duplicates are skipped.
func (l *Loader) Add(ctx context.Context, src Sources) (added, skipped int, err error) {
	var inputs []store.ImageInput
	var size uint64
	for _, p := range src.Files {
		inputs = append(inputs, l.Inputs(p)...)
		if info, err := os.Stat(p); err == nil {
			size += uint64(info.Size())
		}
	}

	for _, list := range src.Lists {
		entries, err := ReadFrameList(list)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read frame list: %w", err)
		}
		for _, e := range entries {
			frames := l.Inputs(e.Path)
			if e.Timestamp != nil && len(frames) == 1 {
				frames[0].Timestamp = e.Timestamp
			}
			frames[0].ExternalID = e.ExternalID
			inputs = append(inputs, frames...)
		}
	}

	if len(inputs) == 0 {
		return 0, 0, nil
	}
	added, skipped, err = l.st.AddImages(ctx, inputs, l.yield)
	if err != nil {
		return added, skipped, err
	}
	l.log.Info("Added %d frames from %d files (%s), skipped %d", added, len(src.Files), humanize.Bytes(size), skipped)
	return added, skipped, nil
}
