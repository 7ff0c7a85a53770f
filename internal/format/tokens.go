package format

import (
	"log/slog"
	"strconv"
	"time"
)

var (
	TabCount       = SimplePlaceholder{Kind: KindTabCount, Token: "%TabCount%"}
	TotalTabCount  = SimplePlaceholder{Kind: KindTotalTabCount, Token: "%TotalTabCount%"}
	ActiveTabIndex = SimplePlaceholder{Kind: KindActiveTabIndex, Token: "%ActiveTabIndex%"}
	WindowName     = SimplePlaceholder{Kind: KindWindowName, Token: "%WindowName%"}
	Count          = SimplePlaceholder{Kind: KindCount, Token: "%Count%"}
	OS             = SimplePlaceholder{Kind: KindOS, Token: "%OS%"}
	Arch           = SimplePlaceholder{Kind: KindArch, Token: "%Arch%"}
	BrowserVersion = SimplePlaceholder{Kind: KindBrowserVersion, Token: "%BrowserVersion%"}
	BrowserBuild   = SimplePlaceholder{Kind: KindBrowserBuild, Token: "%BrowserBuild%"}
	Percent        = SimplePlaceholder{Kind: KindPercent, Token: "%Percent%"}
	Comma          = SimplePlaceholder{Kind: KindComma, Token: "%Comma%"}

	IfWindowName = FunctionPlaceholder{
		Kind:       KindIfWindowName,
		Start:      "%IfWindowName(",
		Separators: []string{","},
		End:        ")%",
	}
	IfRegexMatch = FunctionPlaceholder{
		Kind:       KindIfRegexMatch,
		Start:      "%IfRegexMatch(",
		Separators: []string{",", ",", ",", ","},
		End:        ")%",
	}
)

var simplePlaceholders = []SimplePlaceholder{
	TabCount, TotalTabCount, ActiveTabIndex, WindowName, Count,
	OS, Arch, BrowserVersion, BrowserBuild, Percent, Comma,
}

var functionPlaceholders = []FunctionPlaceholder{IfWindowName, IfRegexMatch}

// RegexTimeout bounds a single %IfRegexMatch% evaluation.
var RegexTimeout = 100 * time.Millisecond

// Values feeds the simple placeholders of one window.
type Values struct {
	TabCount      int
	TotalTabCount int
	// ActiveTabIndex is zero based; it renders one based.
	ActiveTabIndex int
	OS             string
	Arch           string
	BrowserVersion string
	BrowserBuild   string
}

// ApplyIfWindowName picks the first argument when hasName, else the second.
func ApplyIfWindowName(text string, hasName bool) string {
	return IfWindowName.Apply(text, func(args []string) string {
		if hasName {
			return args[0]
		}
		return args[1]
	})
}

// ApplyWindowName substitutes the window name literally.
func ApplyWindowName(text, name string) string {
	return WindowName.Apply(text, name)
}

// ApplyCount substitutes the uniqueness counter.
func ApplyCount(text string, n int) string {
	return Count.Apply(text, strconv.Itoa(n))
}

// ApplyValues substitutes every simple placeholder except the window name and
// the counter. Escapes are applied last so they never form new tokens.
func ApplyValues(text string, v Values) string {
	text = TabCount.ApplyFunc(text, func() string { return strconv.Itoa(max(v.TabCount, 1)) })
	text = TotalTabCount.ApplyFunc(text, func() string { return strconv.Itoa(max(v.TotalTabCount, 1)) })
	text = ActiveTabIndex.ApplyFunc(text, func() string { return strconv.Itoa(v.ActiveTabIndex + 1) })
	text = OS.Apply(text, v.OS)
	text = Arch.Apply(text, v.Arch)
	text = BrowserVersion.Apply(text, v.BrowserVersion)
	text = BrowserBuild.Apply(text, v.BrowserBuild)
	return ApplyEscapes(text)
}

// ApplyEscapes turns %Percent% and %Comma% into their literal characters.
func ApplyEscapes(text string) string {
	text = Comma.Apply(text, ",")
	return Percent.Apply(text, "%")
}

// ApplyIfRegexMatch evaluates every %IfRegexMatch(hay,pattern,flags,then,else)%.
// The first three arguments are passed through expand before use; the
// branches are returned as written so later passes expand them. A pattern or
// flag set that fails to compile selects the else branch.
func ApplyIfRegexMatch(text string, expand func(string) string) string {
	return IfRegexMatch.Apply(text, func(args []string) string {
		hay, pattern, flags := expand(args[0]), expand(args[1]), expand(args[2])
		matched, err := MatchJS(hay, pattern, flags)
		if err != nil {
			slog.Warn("format regex rejected", "pattern", pattern, "flags", flags, "error", err)
			return args[4]
		}
		if matched {
			return args[3]
		}
		return args[4]
	})
}
