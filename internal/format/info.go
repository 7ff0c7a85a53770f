package format

import "strings"

// Kind identifies one placeholder.
type Kind uint8

const (
	KindTabCount Kind = iota
	KindTotalTabCount
	KindActiveTabIndex
	KindWindowName
	KindIfWindowName
	KindIfRegexMatch
	KindCount
	KindOS
	KindArch
	KindBrowserVersion
	KindBrowserBuild
	KindPercent
	KindComma

	numKinds
)

var kindNames = [numKinds]string{
	KindTabCount:       "tab_count",
	KindTotalTabCount:  "total_tab_count",
	KindActiveTabIndex: "active_tab_index",
	KindWindowName:     "window_name",
	KindIfWindowName:   "if_window_name",
	KindIfRegexMatch:   "if_regex_match",
	KindCount:          "count",
	KindOS:             "os",
	KindArch:           "arch",
	KindBrowserVersion: "browser_version",
	KindBrowserBuild:   "browser_build",
	KindPercent:        "percent",
	KindComma:          "comma",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "unknown"
}

// Info records which placeholders a format string uses. The zero value is an
// empty format.
type Info struct {
	kinds   uint32
	hasText bool
}

// NewInfo inspects text against every known placeholder.
func NewInfo(text string) Info {
	info := Info{hasText: text != ""}
	if text == "" {
		return info
	}
	for _, p := range simplePlaceholders {
		if p.Test(text) {
			info.kinds |= 1 << p.Kind
		}
	}
	for _, p := range functionPlaceholders {
		if p.Test(text) {
			info.kinds |= 1 << p.Kind
		}
	}
	return info
}

// Combine ORs every flag of every info.
func Combine(infos ...Info) Info {
	var out Info
	for _, i := range infos {
		out.kinds |= i.kinds
		out.hasText = out.hasText || i.hasText
	}
	return out
}

// Has reports whether the format uses k.
func (i Info) Has(k Kind) bool {
	return i.kinds&(1<<k) != 0
}

// HasAny reports whether the format uses any of kinds.
func (i Info) HasAny(kinds ...Kind) bool {
	for _, k := range kinds {
		if i.Has(k) {
			return true
		}
	}
	return false
}

// HasText reports whether the format was non-empty.
func (i Info) HasText() bool {
	return i.hasText
}

// UsesWindowName reports whether the name or the name conditional appears.
func (i Info) UsesWindowName() bool {
	return i.HasAny(KindWindowName, KindIfWindowName)
}

// IsEmpty reports whether no flag is set.
func (i Info) IsEmpty() bool {
	return i.kinds == 0 && !i.hasText
}

// Kinds lists the set placeholders in declaration order.
func (i Info) Kinds() []Kind {
	var out []Kind
	for k := Kind(0); k < numKinds; k++ {
		if i.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (i Info) String() string {
	names := make([]string, 0, numKinds)
	for _, k := range i.Kinds() {
		names = append(names, k.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}
