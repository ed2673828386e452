package store

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mwantia/clickpoints/pkg/db/models"
	"gorm.io/gorm"
)

// Replacement rewrites a stored path prefix.
type Replacement struct {
	Find    string
	Replace string
}

// ReplacementFile is the sibling file read by ApplyReplacements.
func (s *SQLiteStore) ReplacementFile() string {
	return s.path + ".txt"
}

// ReadReplacements parses a replacement file: one "find<TAB>replace" pair
// per line, lines starting with '#' are ignored.
func ReadReplacements(path string) ([]Replacement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rules []Replacement
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(strings.TrimSpace(text), "#") {
			continue
		}
		find, replace, ok := strings.Cut(text, "\t")
		if !ok || find == "" {
			return nil, fmt.Errorf("invalid replacement in line %d of '%s'", line, path)
		}
		rules = append(rules, Replacement{Find: find, Replace: replace})
	}
	return rules, scanner.Err()
}

// MissingPaths returns stored paths that do not resolve to a directory.
func (s *SQLiteStore) MissingPaths(ctx context.Context) ([]models.Path, error) {
	paths, err := s.ListPaths(ctx)
	if err != nil {
		return nil, err
	}
	var missing []models.Path
	for _, p := range paths {
		if info, err := os.Stat(s.ResolvePath(p.Path)); err != nil || !info.IsDir() {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// ApplyReplacements rewrites unresolved path rows using the replacement file.
// It returns ErrReplacementMissing when paths still do not resolve.
func (s *SQLiteStore) ApplyReplacements(ctx context.Context) error {
	missing, err := s.MissingPaths(ctx)
	if err != nil || len(missing) == 0 {
		return err
	}

	rules, err := ReadReplacements(s.ReplacementFile())
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %d path(s), first '%s'", ErrReplacementMissing, len(missing), missing[0].Path)
	}
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range missing {
			rewritten := p.Path
			for _, r := range rules {
				rewritten = strings.Replace(rewritten, r.Find, r.Replace, 1)
			}
			if rewritten == p.Path {
				continue
			}
			if err := tx.Model(&models.Path{}).Where("id = ?", p.ID).Update("path", rewritten).Error; err != nil {
				return err
			}
			s.log.Info("Replaced path '%s' with '%s'", p.Path, rewritten)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply replacements: %w", err)
	}

	if missing, err = s.MissingPaths(ctx); err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %d path(s), first '%s'", ErrReplacementMissing, len(missing), missing[0].Path)
	}
	return nil
}
