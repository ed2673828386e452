package undo

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type column struct {
	Name string
	Type string
	PK   int
}

func columns(db *gorm.DB, table string) ([]column, error) {
	rows, err := db.Raw(fmt.Sprintf(`PRAGMA main.table_info("%s")`, table)).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of '%s': %w", table, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var (
			cid      int
			name     string
			ctype    string
			notNull  int
			defValue any
			pk       int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defValue, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, column{Name: name, Type: strings.ToUpper(ctype), PK: pk})
	}
	return cols, rows.Err()
}

// rowidAlias reports whether the table has an INTEGER PRIMARY KEY column.
func rowidAlias(cols []column) bool {
	pks := 0
	integer := false
	for _, c := range cols {
		if c.PK > 0 {
			pks++
			integer = c.Type == "INTEGER"
		}
	}
	return pks == 1 && integer
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// triggerStatements builds the three triggers logging the inverse of each
// row change on table into undolog.
func triggerStatements(table string, cols []column) []string {
	t := quoteIdent(table)
	quotedT := strings.ReplaceAll(t, `'`, `''`)

	names := make([]string, 0, len(cols)+1)
	values := make([]string, 0, len(cols)+1)
	sets := make([]string, 0, len(cols))
	if !rowidAlias(cols) {
		names = append(names, "rowid")
		values = append(values, "'||old.rowid||'")
	}
	for _, c := range cols {
		name := quoteIdent(c.Name)
		names = append(names, name)
		values = append(values, "'||quote(old."+name+")||'")
		sets = append(sets, name+"='||quote(old."+name+")||'")
	}

	insert := fmt.Sprintf(`CREATE TEMP TRIGGER IF NOT EXISTS "_undo_%s_it" AFTER INSERT ON main.%s BEGIN
  INSERT INTO undolog VALUES(NULL, 'DELETE FROM %s WHERE rowid='||new.rowid);
END`, table, t, quotedT)

	update := fmt.Sprintf(`CREATE TEMP TRIGGER IF NOT EXISTS "_undo_%s_ut" AFTER UPDATE ON main.%s BEGIN
  INSERT INTO undolog VALUES(NULL, 'UPDATE %s SET %s WHERE rowid='||old.rowid);
END`, table, t, quotedT, strings.Join(sets, ","))

	del := fmt.Sprintf(`CREATE TEMP TRIGGER IF NOT EXISTS "_undo_%s_dt" BEFORE DELETE ON main.%s BEGIN
  INSERT INTO undolog VALUES(NULL, 'INSERT INTO %s(%s) VALUES(%s)');
END`, table, t, quotedT, strings.Join(names, ","), strings.Join(values, ","))

	return []string{insert, update, del}
}
