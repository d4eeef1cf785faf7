package unique

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is what can be recovered from a duplicate-key error message.
type Diagnostic struct {
	// Shape names the diagnosticShapes entry that matched.
	Shape string
	// Namespace is the "db.collection" the server reported.
	Namespace string
	// Index is the violated index name.
	Index string
	// KeyBody is the text between the braces of "dup key: { ... }",
	// empty when the server omitted it.
	KeyBody string
}

type diagnosticShape struct {
	name string
	// re must capture the namespace and the index name, in that order, and
	// end right after "dup key:".
	re *regexp.Regexp
}

// diagnosticShapes lists the message formats servers have used, most
// specific first.
//
//	2.x:  E11000 duplicate key error index: test.users.$name_1  dup key: { : "x" }
//	3.0+: E11000 duplicate key error collection: test.users index: name_1 dup key: { name: "x" }
//	3.4+: ... index: name_1 collation: { locale: "en", strength: 2 } dup key: { name: "x" }
var diagnosticShapes = []diagnosticShape{
	{
		name: "legacy-namespace",
		re:   regexp.MustCompile(`E1100[01] duplicate key error index: (\S*?)\.\$(.+?)\s+dup key:`),
	},
	{
		name: "collection-index",
		re:   regexp.MustCompile(`E1100[01] duplicate key error collection: (.+?) index: (.+?)(?:\s+collation: \{[^}]*\})?\s+dup key:`),
	},
}

// ParseDiagnostic extracts the namespace, index name and dup key body from
// a server message. Unknown formats fail with ErrUnrecognizedPattern.
func ParseDiagnostic(msg string) (Diagnostic, error) {
	for _, shape := range diagnosticShapes {
		loc := shape.re.FindStringSubmatchIndex(msg)
		if loc == nil {
			continue
		}
		d := Diagnostic{
			Shape:     shape.name,
			Namespace: msg[loc[2]:loc[3]],
			Index:     strings.TrimSpace(msg[loc[4]:loc[5]]),
		}
		d.KeyBody = braceBody(msg[loc[1]:])
		return d, nil
	}
	return Diagnostic{}, fmt.Errorf("%w: %q", ErrUnrecognizedPattern, truncate(msg, 200))
}

// braceBody returns the contents of the first balanced {...} in s.
func braceBody(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start+1 : i])
			}
		}
	}
	return ""
}

// RawText is a dup key value the parser could not type. It is kept as the
// server printed it, e.g. `ObjectId('5a9427648b0beebeb69579e7')`.
type RawText string

// KeyValue is one entry of a dup key body. Key is empty for servers that
// print values without field names.
type KeyValue struct {
	Key   string
	Value any
}

// ParseKeyValues splits a dup key body into entries. Values are typed by
// shape only: quoted text is a string, integers are int64, other numbers
// float64, and everything else RawText.
func ParseKeyValues(body string) []KeyValue {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	var out []KeyValue
	for _, entry := range splitTopLevel(body) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, val := "", entry
		if i := keySeparator(entry); i >= 0 {
			key = strings.TrimSpace(entry[:i])
			val = strings.TrimSpace(entry[i+1:])
		}
		out = append(out, KeyValue{Key: key, Value: parseScalar(val)})
	}
	return out
}

// splitTopLevel splits on commas outside quotes and brackets.
func splitTopLevel(s string) []string {
	var parts []string
	depth, last := 0, 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

// keySeparator returns the index of the colon ending the field name, or -1
// when the entry has no field name part before its first quote or bracket.
func keySeparator(entry string) int {
	for i := 0; i < len(entry); i++ {
		switch entry[i] {
		case ':':
			return i
		case '"', '\'', '{', '[', '(':
			return -1
		}
	}
	return -1
}

func parseScalar(s string) any {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return RawText(s)
}

// textualValues associates parsed dup key entries with the index fields.
// Named entries match by field name. Unnamed entries are positional and
// only used when their count equals the number of index fields.
func textualValues(desc IndexDescriptor, entries []KeyValue) Values {
	if len(entries) == 0 {
		return nil
	}
	out := Values{}

	named := false
	for _, e := range entries {
		if e.Key != "" {
			named = true
			break
		}
	}

	if named {
		for _, e := range entries {
			if e.Key != "" && desc.Has(e.Key) {
				out[e.Key] = e.Value
			}
		}
		return out
	}

	if len(entries) != len(desc.Fields) {
		return nil
	}
	for i, field := range desc.Fields {
		out[field] = entries[i].Value
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
