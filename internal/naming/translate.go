package naming

import (
	"strings"
	"unicode"

	"github.com/agentworkforce/recordsync/internal/record"
)

// ToRemote renders every top-level key in underscore form. Values are copied
// by reference.
func ToRemote(r record.Record) record.Record {
	if r == nil {
		return nil
	}
	out := make(record.Record, len(r))
	for key, value := range r {
		out[CamelToSnake(key)] = value
	}
	return out
}

func ToLocal(r record.Record) record.Record {
	if r == nil {
		return nil
	}
	out := make(record.Record, len(r))
	for key, value := range r {
		out[SnakeToCamel(key)] = value
	}
	return out
}

func ToLocalAll(rows []record.Record) []record.Record {
	out := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, ToLocal(row))
	}
	return out
}

// CamelToSnake maps firstName to first_name. Every capital gets a separator,
// a leading one included, so ID becomes _i_d and the mapping stays
// reversible.
func CamelToSnake(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 4)
	for _, r := range key {
		if unicode.IsUpper(r) {
			b.WriteByte('_')
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SnakeToCamel is the inverse of CamelToSnake. An underscore that is not
// followed by a lowercase letter is kept.
func SnakeToCamel(key string) string {
	runes := []rune(key)
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '_' && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			b.WriteRune(unicode.ToUpper(runes[i+1]))
			i++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
