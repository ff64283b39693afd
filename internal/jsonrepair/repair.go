// Package jsonrepair turns JSON-ish model output into parseable JSON.
//
// Completion models asked for a JSON object routinely emit near-JSON:
// single-quoted strings, bare keys, trailing commas, missing commas between
// members, Python literals, or a truncated tail. Repair fixes what it can
// and leaves validation to the caller's json.Unmarshal.
package jsonrepair

import (
	"strings"
	"unicode"
)

// Repair returns a best-effort valid-JSON rendering of s. It never panics
// and has no state; hopeless input comes back as the best attempt so the
// caller's parse reports the failure.
func Repair(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	// Start at the first structural opener; leading prose is never JSON.
	if i := strings.IndexAny(s, "{["); i > 0 {
		s = s[i:]
	}

	var (
		out   strings.Builder
		stack []rune // open brackets
	)

	runes := []rune(s)
	i := 0
	// last significant rune written (quotes, brackets, etc.), 0 if none
	var last rune

	writeRune := func(r rune) {
		out.WriteRune(r)
		if !unicode.IsSpace(r) {
			last = r
		}
	}

	// valueEnd reports whether the last written rune terminates a value,
	// meaning a comma may be missing before the next member.
	valueEnd := func() bool {
		switch last {
		case '"', '}', ']':
			return true
		}
		return unicode.IsDigit(last) || last == 'e' || last == 'l' // true/false/null, digits
	}

	for i < len(runes) {
		r := runes[i]

		switch {
		case r == '"' || r == '\'':
			if valueEnd() && needsComma(runes, i, stack) {
				writeRune(',')
			}
			quoted, n := readString(runes[i:], r)
			out.WriteString(quoted)
			last = '"'
			i += n

		case r == '{' || r == '[':
			if valueEnd() && needsComma(runes, i, stack) {
				writeRune(',')
			}
			stack = append(stack, r)
			writeRune(r)
			i++

		case r == '}' || r == ']':
			// drop a trailing comma before the closer
			trimTrailingComma(&out, &last)
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			writeRune(r)
			i++
			if len(stack) == 0 {
				// balanced: anything after this is trailing prose
				return out.String()
			}

		case r == ',':
			writeRune(r)
			i++

		case r == ':':
			writeRune(r)
			i++

		case unicode.IsSpace(r):
			out.WriteRune(r)
			i++

		case unicode.IsDigit(r) || r == '-' || r == '+' || r == '.':
			if valueEnd() && needsComma(runes, i, stack) {
				writeRune(',')
			}
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || strings.ContainsRune("+-.eE", runes[j])) {
				j++
			}
			out.WriteString(string(runes[i:j]))
			last = runes[j-1]
			i = j

		case unicode.IsLetter(r) || r == '_':
			if valueEnd() && needsComma(runes, i, stack) {
				writeRune(',')
			}
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			word := string(runes[i:j])
			i = j
			switch strings.ToLower(word) {
			case "true", "false":
				out.WriteString(strings.ToLower(word))
				last = 'e'
			case "null", "none", "nan":
				out.WriteString("null")
				last = 'l'
			default:
				if isKeyPosition(runes, j, stack) {
					// bare object key -> quote it
					out.WriteString(`"` + word + `"`)
					last = '"'
				} else {
					// bare word in value position -> stringify
					out.WriteString(`"` + word + `"`)
					last = '"'
				}
			}

		default:
			// structural noise; skip it
			i++
		}
	}

	// close whatever is still open, dropping a dangling comma first
	trimTrailingComma(&out, &last)
	for n := len(stack) - 1; n >= 0; n-- {
		if stack[n] == '{' {
			out.WriteRune('}')
		} else {
			out.WriteRune(']')
		}
	}
	return out.String()
}

// readString consumes a string starting at the given delimiter and returns
// it re-quoted with double quotes plus the number of runes consumed.
func readString(runes []rune, delim rune) (string, int) {
	var b strings.Builder
	b.WriteRune('"')
	i := 1
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes):
			next := runes[i+1]
			if next == delim && delim == '\'' {
				// \' inside single quotes needs no escape once re-quoted
				b.WriteRune('\'')
			} else {
				b.WriteRune('\\')
				b.WriteRune(next)
			}
			i += 2
		case r == delim:
			b.WriteRune('"')
			return b.String(), i + 1
		case r == '"' && delim == '\'':
			b.WriteString(`\"`)
			i++
		case r == '\n':
			// unterminated string: close at end of line
			b.WriteRune('"')
			return b.String(), i
		default:
			b.WriteRune(r)
			i++
		}
	}
	b.WriteRune('"')
	return b.String(), i
}

// needsComma decides whether a new member is starting without a separator.
// Only applies inside an object or array.
func needsComma(runes []rune, i int, stack []rune) bool {
	return len(stack) > 0
}

// isKeyPosition reports whether the identifier ending at index j is
// followed by a colon, i.e. it is an object key.
func isKeyPosition(runes []rune, j int, stack []rune) bool {
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		j++
	}
	return j < len(runes) && runes[j] == ':'
}

// trimTrailingComma removes a dangling comma (plus trailing space) from the
// builder. strings.Builder has no truncate, so rebuild the tail.
func trimTrailingComma(out *strings.Builder, last *rune) {
	s := out.String()
	trimmed := strings.TrimRight(s, " \t\n\r")
	if !strings.HasSuffix(trimmed, ",") {
		return
	}
	trimmed = strings.TrimRight(trimmed[:len(trimmed)-1], " \t\n\r")
	out.Reset()
	out.WriteString(trimmed)
	if trimmed != "" {
		*last = rune(trimmed[len(trimmed)-1])
	} else {
		*last = 0
	}
}
