package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/warden/dialect"
)

// Builder assembles one SQL statement with dialect-aware identifier quoting
// and argument placeholders. It is not safe for concurrent use.
type Builder struct {
	dialect string
	sb      strings.Builder
	args    []any
}

// NewBuilder returns a statement builder for the given dialect.
func NewBuilder(d string) *Builder {
	return &Builder{dialect: d}
}

// Dialect returns the dialect the builder quotes for.
func (b *Builder) Dialect() string { return b.dialect }

// WriteString appends raw SQL text.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Ident appends a quoted identifier. Qualified names ("t1.id") quote each
// segment.
func (b *Builder) Ident(name string) *Builder {
	quote := `"`
	if b.dialect == dialect.MySQL {
		quote = "`"
	}
	for i, part := range strings.Split(name, ".") {
		if i > 0 {
			b.sb.WriteString(".")
		}
		b.sb.WriteString(quote)
		b.sb.WriteString(part)
		b.sb.WriteString(quote)
	}
	return b
}

// Arg appends an argument placeholder and records the argument value.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.dialect == dialect.Postgres {
		b.sb.WriteString("$")
		b.sb.WriteString(strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteString("?")
	}
	return b
}

// Args appends a comma-separated placeholder list for the given values.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// Idents appends a comma-separated quoted identifier list.
func (b *Builder) Idents(names ...string) *Builder {
	for i, name := range names {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Ident(name)
	}
	return b
}

// Nested appends f's output wrapped in parentheses. f shares the builder,
// so placeholder numbering stays consecutive.
func (b *Builder) Nested(f func(*Builder)) *Builder {
	b.sb.WriteString("(")
	f(b)
	b.sb.WriteString(")")
	return b
}

// Query returns the assembled statement and its arguments.
func (b *Builder) Query() (string, []any) {
	return b.sb.String(), b.args
}
