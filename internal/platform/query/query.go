// Package query turns whitelisted list filters into parameterised SQL.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Kind int

const (
	Exact  Kind = iota // column = value
	Prefix             // case-insensitive prefix, column ILIKE value%
	Date               // optional gt/lt/ge/le/eq prefix; bare dates match the whole day
	Bool               // true/false
)

// Field maps a query parameter to one or more columns. Prefix fields with
// several columns match when any of them matches.
type Field struct {
	Kind    Kind
	Columns []string
}

func Col(kind Kind, columns ...string) Field {
	return Field{Kind: kind, Columns: columns}
}

// Query accumulates WHERE clauses and their positional arguments.
type Query struct {
	table   string
	cols    string
	where   []string
	args    []any
	orderBy string
}

func New(table, cols string) *Query {
	return &Query{table: table, cols: cols}
}

func (q *Query) next() int { return len(q.args) + 1 }

// Where adds a raw clause. Placeholders are written as ? and numbered here.
func (q *Query) Where(clause string, args ...any) *Query {
	for _, a := range args {
		q.args = append(q.args, a)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(q.args)), 1)
	}
	q.where = append(q.where, clause)
	return q
}

// Apply adds a clause for each param present in fields. Unknown params are
// ignored; malformed values are reported.
func (q *Query) Apply(params map[string]string, fields map[string]Field) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := fields[name]
		value, ok := params[name]
		if !ok || value == "" {
			continue
		}
		if err := q.apply(field, value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (q *Query) apply(f Field, value string) error {
	switch f.Kind {
	case Exact:
		q.Where(f.Columns[0]+" = ?", value)
	case Prefix:
		parts := make([]string, len(f.Columns))
		pattern := escapeLike(value) + "%"
		args := make([]any, len(f.Columns))
		for i, col := range f.Columns {
			parts[i] = col + " ILIKE ?"
			args[i] = pattern
		}
		q.Where("("+strings.Join(parts, " OR ")+")", args...)
	case Bool:
		switch strings.ToLower(value) {
		case "true":
			q.Where(f.Columns[0] + " = TRUE")
		case "false":
			q.Where(f.Columns[0] + " = FALSE")
		default:
			return fmt.Errorf("invalid boolean %q", value)
		}
	case Date:
		return q.applyDate(f.Columns[0], value)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (q *Query) applyDate(col, value string) error {
	op := ""
	for _, p := range []string{"gt", "lt", "ge", "le", "eq"} {
		if strings.HasPrefix(value, p) {
			op, value = p, value[2:]
			break
		}
	}
	t, dayOnly, err := parseDate(value)
	if err != nil {
		return err
	}

	end := t
	if dayOnly {
		end = t.Add(24 * time.Hour)
	}
	switch op {
	case "gt":
		if dayOnly {
			q.Where(col+" >= ?", end)
		} else {
			q.Where(col+" > ?", t)
		}
	case "ge":
		q.Where(col+" >= ?", t)
	case "lt":
		q.Where(col+" < ?", t)
	case "le":
		if dayOnly {
			q.Where(col+" < ?", end)
		} else {
			q.Where(col+" <= ?", t)
		}
	default:
		if dayOnly {
			q.Where("("+col+" >= ? AND "+col+" < ?)", t, end)
		} else {
			q.Where(col+" = ?", t)
		}
	}
	return nil
}

func parseDate(s string) (time.Time, bool, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	return time.Time{}, false, fmt.Errorf("invalid date %q", s)
}

// Sort orders by a whitelisted field; "-name" sorts descending.
func (q *Query) Sort(param, fallback string, fields map[string]Field) *Query {
	q.orderBy = fallback
	if param == "" {
		return q
	}
	var parts []string
	for _, key := range strings.Split(param, ",") {
		key = strings.TrimSpace(key)
		dir := " ASC"
		if strings.HasPrefix(key, "-") {
			key, dir = key[1:], " DESC"
		}
		if f, ok := fields[key]; ok {
			parts = append(parts, f.Columns[0]+dir)
		}
	}
	if len(parts) > 0 {
		q.orderBy = strings.Join(parts, ", ")
	}
	return q
}

func (q *Query) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func (q *Query) CountSQL() string {
	return "SELECT COUNT(*) FROM " + q.table + q.whereSQL()
}

func (q *Query) Args() []any {
	return q.args
}

func (q *Query) DataSQL() string {
	sql := "SELECT " + q.cols + " FROM " + q.table + q.whereSQL()
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.next(), q.next()+1)
}

func (q *Query) DataArgs(limit, offset int) []any {
	out := make([]any, 0, len(q.args)+2)
	out = append(out, q.args...)
	return append(out, limit, offset)
}
