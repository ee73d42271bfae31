// Package query provides small scan/upsert helpers over database/sql,
// trimmed down to what the device store needs.
package query

import (
	"database/sql"
	"fmt"
	"strings"
)

// Dest returns the destination pointers to scan the i'th row into. It is
// called once per row; a dest func can reject more than one row by
// panicking or erroring out itself.
type Dest func(i int) []interface{}

// SelectObjects runs stmt and scans every row through dest.
func SelectObjects(stmt *sql.Stmt, dest Dest, args ...interface{}) error {
	rows, err := stmt.Query(args...)
	if err != nil {
		return fmt.Errorf("query: select: %w", err)
	}
	defer rows.Close()

	for i := 0; rows.Next(); i++ {
		if err := rows.Scan(dest(i)...); err != nil {
			return fmt.Errorf("query: scan row %d: %w", i, err)
		}
	}

	return rows.Err()
}

// UpsertObject inserts a row into table, or replaces it if a row with the
// same primary/unique key already exists, and returns the affected rowid.
func UpsertObject(tx *sql.Tx, table string, columns []string, values []interface{}) (int64, error) {
	if len(columns) == 0 {
		return -1, fmt.Errorf("columns length is zero")
	}
	if len(columns) != len(values) {
		return -1, fmt.Errorf("columns length does not match values length")
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	stmtText := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)

	result, err := tx.Exec(stmtText, values...)
	if err != nil {
		return -1, fmt.Errorf("query: upsert into %s: %w", table, err)
	}

	return result.LastInsertId()
}

// DeleteObject removes the row in table matching "<keyColumn> = <keyValue>".
func DeleteObject(tx *sql.Tx, table, keyColumn string, keyValue interface{}) error {
	stmtText := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, keyColumn)
	if _, err := tx.Exec(stmtText, keyValue); err != nil {
		return fmt.Errorf("query: delete from %s: %w", table, err)
	}
	return nil
}
