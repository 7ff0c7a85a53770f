package format

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// CompileJS compiles pattern with JavaScript RegExp flags (dgimsuvy).
// It reports whether the sticky flag was given.
func CompileJS(pattern, flags string) (*regexp2.Regexp, bool, error) {
	var opts regexp2.RegexOptions = regexp2.ECMAScript
	sticky := false
	seen := make(map[rune]bool, len(flags))
	for _, f := range flags {
		if seen[f] {
			return nil, false, fmt.Errorf("duplicate regex flag %q", f)
		}
		seen[f] = true
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'y':
			sticky = true
		case 'g', 'd', 'u', 'v':
		default:
			return nil, false, fmt.Errorf("invalid regex flag %q", f)
		}
	}
	if seen['u'] && seen['v'] {
		return nil, false, fmt.Errorf("regex flags u and v are exclusive")
	}
	// regexp2 refuses ECMAScript together with Singleline.
	if opts&regexp2.Singleline != 0 {
		opts &^= regexp2.ECMAScript
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, false, err
	}
	re.MatchTimeout = RegexTimeout
	return re, sticky, nil
}

// MatchJS reports whether pattern matches hay the way RegExp.prototype.test
// would on a fresh expression.
func MatchJS(hay, pattern, flags string) (bool, error) {
	re, sticky, err := CompileJS(pattern, strings.TrimSpace(flags))
	if err != nil {
		return false, err
	}
	if !sticky {
		return re.MatchString(hay)
	}
	m, err := re.FindStringMatch(hay)
	if err != nil {
		return false, err
	}
	return m != nil && m.Index == 0, nil
}
