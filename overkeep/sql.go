// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Statement text is generated from the declared mapping, with every
// identifier sanitized. Placeholders follow the Columns order that Values
// and Dest already agree on.

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (m *Mapping) selectColumns() string {
	cols := make([]string, 0, len(m.Columns)+1)
	cols = append(cols, ident(m.IDColumn))
	for _, c := range m.Columns {
		cols = append(cols, ident(c))
	}
	return strings.Join(cols, ", ")
}

func (m *Mapping) selectSQL() string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		m.selectColumns(), ident(m.Table), ident(m.IDColumn))
}

func (m *Mapping) listSQL() string {
	return fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s`,
		m.selectColumns(), ident(m.Table), ident(m.IDColumn))
}

func (m *Mapping) pageSQL() string {
	return fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s LIMIT $1 OFFSET $2`,
		m.selectColumns(), ident(m.Table), ident(m.IDColumn))
}

func (m *Mapping) existsSQL() string {
	return fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = $1`,
		ident(m.Table), ident(m.IDColumn))
}

func (m *Mapping) countSQL() string {
	return fmt.Sprintf(`SELECT count(*) FROM %s`, ident(m.Table))
}

// insertSQL emits an INSERT carrying an explicit identity value when withID
// is set, otherwise one that reads the database-assigned identity back.
func (m *Mapping) insertSQL(withID bool) string {
	var cols []string
	if withID {
		cols = append(cols, ident(m.IDColumn))
	}
	for _, c := range m.Columns {
		cols = append(cols, ident(c))
	}

	args := make([]string, len(cols))
	for i := range cols {
		args[i] = fmt.Sprintf("$%d", i+1)
	}

	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		ident(m.Table), strings.Join(cols, ", "), strings.Join(args, ", "))
	if !withID {
		sql += fmt.Sprintf(` RETURNING %s`, ident(m.IDColumn))
	}
	return sql
}

func (m *Mapping) updateSQL() string {
	sets := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		sets[i] = fmt.Sprintf("%s = $%d", ident(c), i+1)
	}
	return fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $%d`,
		ident(m.Table), strings.Join(sets, ", "), ident(m.IDColumn), len(m.Columns)+1)
}

// upsertSQL emits a full-row write: insert the entity, or overwrite every
// declared column when the identity already exists.
func (m *Mapping) upsertSQL() string {
	cols := make([]string, 0, len(m.Columns)+1)
	cols = append(cols, ident(m.IDColumn))
	for _, c := range m.Columns {
		cols = append(cols, ident(c))
	}
	args := make([]string, len(cols))
	for i := range cols {
		args[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", ident(c), ident(c))
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		ident(m.Table), strings.Join(cols, ", "), strings.Join(args, ", "),
		ident(m.IDColumn), strings.Join(sets, ", "))
}

func (m *Mapping) deleteSQL() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		ident(m.Table), ident(m.IDColumn))
}
