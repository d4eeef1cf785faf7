package unique

import (
	"fmt"
	"strings"

	"github.com/dalemusser/dupkey/schema"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultMessage is used when neither the schema nor the translator
// configuration provides a template. {PATH} and {VALUE} are substituted.
const DefaultMessage = "Path `{PATH}` ({VALUE}) is not unique."

// FieldMessages maps field paths to custom uniqueness messages.
type FieldMessages map[string]string

// NewFieldMessages collects the custom messages declared in s and
// normalizes every unique declaration to a plain flag, so index creation
// only ever sees booleans. Index-level messages override field-level ones
// for every field of the index.
func NewFieldMessages(s *schema.Schema) FieldMessages {
	msgs := FieldMessages{}
	if s == nil {
		return msgs
	}

	s.Walk(func(path string, f *schema.Field) {
		if f.Unique.Message != "" {
			msgs[path] = f.Unique.Message
		}
		f.Unique = f.Unique.Normalized()
	})

	for i := range s.Indexes {
		idx := &s.Indexes[i]
		if idx.Unique.Message != "" {
			for _, field := range idx.Fields {
				msgs[field] = idx.Unique.Message
			}
		}
		idx.Unique = idx.Unique.Normalized()
	}
	return msgs
}

// Resolve returns the message for a duplicate on path: the custom message
// when one is declared, the rendered template otherwise.
func (m FieldMessages) Resolve(path string, value any, template string) string {
	if msg, ok := m[path]; ok {
		return Render(msg, path, value)
	}
	if template == "" {
		template = DefaultMessage
	}
	return Render(template, path, value)
}

// Render substitutes {PATH} and {VALUE} in tmpl.
func Render(tmpl, path string, value any) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	return strings.NewReplacer("{PATH}", path, "{VALUE}", FormatValue(value)).Replace(tmpl)
}

// FormatValue renders a field value for messages.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case RawText:
		return string(t)
	case primitive.ObjectID:
		return t.Hex()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
