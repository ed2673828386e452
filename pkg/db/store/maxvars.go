package store

import (
	"context"
	"fmt"
	"strings"
)

const maxVariablesCeiling = 250000

// probeMaxVariables finds the largest number of bound parameters accepted by
// the engine by binary search against a temporary table.
func (s *SQLiteStore) probeMaxVariables(ctx context.Context) (int, error) {
	if _, err := s.sqlDB.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS maxvars_probe (v INTEGER)`); err != nil {
		return 0, fmt.Errorf("failed to create probe table: %w", err)
	}
	defer s.sqlDB.ExecContext(ctx, `DROP TABLE IF EXISTS temp.maxvars_probe`)

	lo, hi := 1, maxVariablesCeiling
	if !s.tryVariables(ctx, lo) {
		return 0, fmt.Errorf("engine rejects bound parameters")
	}
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if s.tryVariables(ctx, mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

func (s *SQLiteStore) tryVariables(ctx context.Context, n int) bool {
	args := make([]any, n)
	for i := range args {
		args[i] = i
	}
	query := "DELETE FROM temp.maxvars_probe WHERE v IN (" + strings.TrimSuffix(strings.Repeat("?,", n), ",") + ")"
	_, err := s.sqlDB.ExecContext(ctx, query, args...)
	return err == nil
}
