// Package format implements the placeholder language used in window title
// prefix formats, e.g. "[%TabCount%] %IfWindowName(%WindowName% | ,)%".
package format

import "strings"

// SimplePlaceholder is a literal token replaced by a value. Tokens match
// without regard to ASCII case.
type SimplePlaceholder struct {
	Kind  Kind
	Token string
}

// Test reports whether text contains the token.
func (p SimplePlaceholder) Test(text string) bool {
	return indexFold(text, p.Token) >= 0
}

// Apply replaces every occurrence of the token with value.
func (p SimplePlaceholder) Apply(text, value string) string {
	return p.ApplyFunc(text, func() string { return value })
}

// ApplyFunc replaces every occurrence of the token with the result of value.
// value is called at most once and only if the token occurs.
func (p SimplePlaceholder) ApplyFunc(text string, value func() string) string {
	i := indexFold(text, p.Token)
	if i < 0 {
		return text
	}
	v := value()
	var b strings.Builder
	b.Grow(len(text))
	for i >= 0 {
		b.WriteString(text[:i])
		b.WriteString(v)
		text = text[i+len(p.Token):]
		i = indexFold(text, p.Token)
	}
	b.WriteString(text)
	return b.String()
}

// FunctionPlaceholder is a token with arguments:
// Start arg0 Separators[0] arg1 ... End.
type FunctionPlaceholder struct {
	Kind       Kind
	Start      string
	Separators []string
	End        string
}

// Arity is the number of arguments captured per occurrence.
func (p FunctionPlaceholder) Arity() int {
	return len(p.Separators) + 1
}

// Test reports whether text contains at least one complete occurrence.
func (p FunctionPlaceholder) Test(text string) bool {
	for {
		i := indexFold(text, p.Start)
		if i < 0 {
			return false
		}
		if _, _, ok := p.capture(text[i+len(p.Start):]); ok {
			return true
		}
		text = text[i+len(p.Start):]
	}
}

// Apply scans text left to right and replaces each complete occurrence with
// the result of eval. When an occurrence is missing a separator or the end
// marker, scanning stops and the rest of text is kept verbatim.
func (p FunctionPlaceholder) Apply(text string, eval func(args []string) string) string {
	i := indexFold(text, p.Start)
	if i < 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for i >= 0 {
		args, rest, ok := p.capture(text[i+len(p.Start):])
		if !ok {
			break
		}
		b.WriteString(text[:i])
		b.WriteString(eval(args))
		text = rest
		i = indexFold(text, p.Start)
	}
	b.WriteString(text)
	return b.String()
}

// capture reads the arguments following a start marker. It returns the
// arguments and the text after the end marker.
func (p FunctionPlaceholder) capture(text string) ([]string, string, bool) {
	args := make([]string, 0, p.Arity())
	for _, sep := range p.Separators {
		j := indexFold(text, sep)
		if j < 0 {
			return nil, "", false
		}
		args = append(args, text[:j])
		text = text[j+len(sep):]
	}
	j := indexFold(text, p.End)
	if j < 0 {
		return nil, "", false
	}
	args = append(args, text[:j])
	return args, text[j+len(p.End):], true
}

// indexFold is strings.Index with ASCII case folding.
func indexFold(s, sub string) int {
	n := len(sub)
	if n == 0 {
		return 0
	}
	for i := 0; i+n <= len(s); i++ {
		if equalFoldASCII(s[i:i+n], sub) {
			return i
		}
	}
	return -1
}

func equalFoldASCII(a, b string) bool {
	for i := 0; i < len(a); i++ {
		if lowerASCII(a[i]) != lowerASCII(b[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
