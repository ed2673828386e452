package undo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mwantia/clickpoints/pkg/log"
	"gorm.io/gorm"
)

var ErrInactive = errors.New("undo journal is not active")

// Interval is a closed range of undolog entries forming one user action.
type Interval struct {
	Begin int64
	End   int64
	Label string
}

// State describes the top of both stacks.
type State struct {
	CanUndo bool
	CanRedo bool
	Undo    string
	Redo    string
}

// Journal records inverse statements for tracked tables through temporary
// triggers. It is bound to a single connection.
type Journal struct {
	db     *gorm.DB
	tables []string
	log    log.LoggerService

	active     bool
	frozen     bool
	freezeMark int64
	firstLog   int64
	undoStack  []Interval
	redoStack  []Interval
}

func NewJournal(db *gorm.DB, tables []string, logger log.LoggerService) *Journal {
	if logger == nil {
		logger = log.Discard()
	}
	return &Journal{db: db, tables: tables, log: logger}
}

// Rebind points the journal at a new connection, e.g. after saving the
// project under a new name. The journal has to be activated again.
func (j *Journal) Rebind(db *gorm.DB) {
	j.db = db
	j.active = false
	j.reset()
}

func (j *Journal) Active() bool {
	return j.active
}

// Activate creates the undolog table and installs the triggers.
func (j *Journal) Activate(ctx context.Context) error {
	if j.active {
		return nil
	}
	db := j.db.WithContext(ctx)
	if err := db.Exec(`CREATE TEMP TABLE IF NOT EXISTS undolog (seq INTEGER PRIMARY KEY, sql TEXT)`).Error; err != nil {
		return fmt.Errorf("failed to create undolog: %w", err)
	}

	for _, table := range j.tables {
		cols, err := columns(db, table)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			j.log.Warn("Table '%s' does not exist and is not tracked", table)
			continue
		}
		for _, stmt := range triggerStatements(table, cols) {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to install undo trigger on '%s': %w", table, err)
			}
		}
	}

	j.active = true
	j.reset()
	head, err := j.head(ctx)
	if err != nil {
		return err
	}
	j.firstLog = head + 1
	j.log.Debug("Undo journal active for %s", strings.Join(j.tables, ", "))
	return nil
}

// Deactivate removes the triggers and the log.
func (j *Journal) Deactivate(ctx context.Context) error {
	if !j.active {
		return nil
	}
	db := j.db.WithContext(ctx)
	for _, table := range j.tables {
		for _, op := range []string{"it", "ut", "dt"} {
			if err := db.Exec(fmt.Sprintf(`DROP TRIGGER IF EXISTS temp."_undo_%s_%s"`, table, op)).Error; err != nil {
				return err
			}
		}
	}
	if err := db.Exec(`DROP TABLE IF EXISTS temp.undolog`).Error; err != nil {
		return err
	}
	j.active = false
	j.reset()
	return nil
}

func (j *Journal) reset() {
	j.undoStack = nil
	j.redoStack = nil
	j.frozen = false
	j.freezeMark = 0
	j.firstLog = 1
}

func (j *Journal) head(ctx context.Context) (int64, error) {
	var seq int64
	err := j.db.WithContext(ctx).Raw(`SELECT coalesce(max(seq), 0) FROM temp.undolog`).Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read undolog: %w", err)
	}
	return seq, nil
}

// Freeze marks the log so entries written until Unfreeze are dropped.
func (j *Journal) Freeze(ctx context.Context) error {
	if !j.active {
		return ErrInactive
	}
	if j.frozen {
		return nil
	}
	head, err := j.head(ctx)
	if err != nil {
		return err
	}
	j.freezeMark = head
	j.frozen = true
	return nil
}

func (j *Journal) Unfreeze(ctx context.Context) error {
	if !j.active {
		return ErrInactive
	}
	if !j.frozen {
		return nil
	}
	if err := j.db.WithContext(ctx).Exec(`DELETE FROM temp.undolog WHERE seq > ?`, j.freezeMark).Error; err != nil {
		return fmt.Errorf("failed to discard frozen entries: %w", err)
	}
	j.frozen = false
	j.firstLog = j.freezeMark + 1
	return nil
}

// Barrier closes the current action. Actions without log entries are dropped.
func (j *Journal) Barrier(ctx context.Context, label string) error {
	if !j.active {
		return ErrInactive
	}
	if j.frozen {
		return nil
	}
	end, err := j.head(ctx)
	if err != nil {
		return err
	}
	if end < j.firstLog {
		return nil
	}
	j.undoStack = append(j.undoStack, Interval{Begin: j.firstLog, End: end, Label: label})
	j.redoStack = nil
	j.firstLog = end + 1
	return nil
}

// Undo reverts the most recent action.
func (j *Journal) Undo(ctx context.Context) error {
	if !j.active {
		return ErrInactive
	}
	if err := j.Barrier(ctx, ""); err != nil {
		return err
	}
	if len(j.undoStack) == 0 {
		return nil
	}
	top := j.undoStack[len(j.undoStack)-1]
	replay, err := j.replay(ctx, top)
	if err != nil {
		return err
	}
	j.undoStack = j.undoStack[:len(j.undoStack)-1]
	j.redoStack = append(j.redoStack, replay)
	j.log.Debug("Undo '%s' (%d statements)", top.Label, top.End-top.Begin+1)
	return nil
}

// Redo reapplies the most recently undone action.
func (j *Journal) Redo(ctx context.Context) error {
	if !j.active {
		return ErrInactive
	}
	if len(j.redoStack) == 0 {
		return nil
	}
	top := j.redoStack[len(j.redoStack)-1]
	replay, err := j.replay(ctx, top)
	if err != nil {
		return err
	}
	j.redoStack = j.redoStack[:len(j.redoStack)-1]
	j.undoStack = append(j.undoStack, replay)
	j.log.Debug("Redo '%s' (%d statements)", top.Label, top.End-top.Begin+1)
	return nil
}

// replay runs the statements of iv in reverse order and returns the interval
// of inverse statements the triggers logged meanwhile.
func (j *Journal) replay(ctx context.Context, iv Interval) (Interval, error) {
	var begin int64
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var statements []string
		if err := tx.Raw(`SELECT sql FROM temp.undolog WHERE seq BETWEEN ? AND ? ORDER BY seq DESC`, iv.Begin, iv.End).
			Scan(&statements).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM temp.undolog WHERE seq BETWEEN ? AND ?`, iv.Begin, iv.End).Error; err != nil {
			return err
		}
		// seq values freed above are handed out again to the replayed statements.
		if err := tx.Raw(`SELECT coalesce(max(seq), 0) FROM temp.undolog`).Scan(&begin).Error; err != nil {
			return err
		}
		if err := tx.Exec(`PRAGMA defer_foreign_keys = ON`).Error; err != nil {
			return err
		}
		for _, stmt := range statements {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to replay '%s': %w", stmt, err)
			}
		}
		return nil
	})
	if err != nil {
		return Interval{}, fmt.Errorf("failed to replay '%s': %w", iv.Label, err)
	}

	end, err := j.head(ctx)
	if err != nil {
		return Interval{}, err
	}
	j.firstLog = end + 1
	return Interval{Begin: begin + 1, End: end, Label: iv.Label}, nil
}

func (j *Journal) State() State {
	var s State
	if n := len(j.undoStack); n > 0 {
		s.CanUndo = true
		s.Undo = j.undoStack[n-1].Label
	}
	if n := len(j.redoStack); n > 0 {
		s.CanRedo = true
		s.Redo = j.redoStack[n-1].Label
	}
	return s
}
