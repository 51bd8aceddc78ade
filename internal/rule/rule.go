// Package rule recognizes the masking rule grammar carried by security labels.
//
// Keywords are case-insensitive and tolerate extra whitespace. Captured
// arguments are returned verbatim, minus surrounding whitespace.
package rule

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind tags a parsed rule.
type Kind int

// Rule kinds.
const (
	KindNone Kind = iota
	KindValue
	KindFunction
	KindNotMasked
	KindMasked
	KindTrusted
	KindUntrusted
	KindTablesample
	KindIndirectIdentifier
	KindUnknown
)

var kindNames = map[Kind]string{
	KindNone:               "none",
	KindValue:              "value",
	KindFunction:           "function",
	KindNotMasked:          "not masked",
	KindMasked:             "masked",
	KindTrusted:            "trusted",
	KindUntrusted:          "untrusted",
	KindTablesample:        "tablesample",
	KindIndirectIdentifier: "indirect identifier",
	KindUnknown:            "unknown",
}

func (k Kind) String() string { return kindNames[k] }

// Rule is the tagged form of a label. Arg holds the captured value, function
// call or sampling clause for the kinds that carry one.
type Rule struct {
	Kind Kind
	Text string
	Arg  string
}

// None is the absence of a rule.
var None = Rule{Kind: KindNone}

var (
	reMasked             = regexp.MustCompile(`(?is)^\s*MASKED\s*$`)
	reNotMasked          = regexp.MustCompile(`(?is)^\s*NOT\s+MASKED\s*$`)
	reIndirectIdentifier = regexp.MustCompile(`(?is)^\s*(QUASI|INDIRECT)\s+IDENTIFIER\s*$`)
	reTrusted            = regexp.MustCompile(`(?is)^\s*TRUSTED\s*$`)
	reUntrusted          = regexp.MustCompile(`(?is)^\s*UNTRUSTED\s*$`)
	reTablesample        = regexp.MustCompile(`(?is)^\s*TABLESAMPLE\s+(.*?)\s*$`)
	reFunction           = regexp.MustCompile(`(?is)^\s*MASKED\s+WITH\s+FUNCTION\s+(.*?)\s*$`)
	reValue              = regexp.MustCompile(`(?is)^\s*MASKED\s+WITH\s+VALUE\s+(.*?)\s*$`)
)

// IsMasked reports whether text is the role rule MASKED.
func IsMasked(text string) bool { return reMasked.MatchString(text) }

// IsNotMasked reports whether text is the column rule NOT MASKED.
func IsNotMasked(text string) bool { return reNotMasked.MatchString(text) }

// IsIndirectIdentifier reports whether text is INDIRECT IDENTIFIER or QUASI IDENTIFIER.
func IsIndirectIdentifier(text string) bool { return reIndirectIdentifier.MatchString(text) }

// IsTrusted reports whether text is TRUSTED.
func IsTrusted(text string) bool { return reTrusted.MatchString(text) }

// IsUntrusted reports whether text is UNTRUSTED.
func IsUntrusted(text string) bool { return reUntrusted.MatchString(text) }

// IsTablesample reports whether text is a TABLESAMPLE rule.
func IsTablesample(text string) bool { return reTablesample.MatchString(text) }

// CaptureValue returns the expression of a MASKED WITH VALUE rule.
func CaptureValue(text string) (string, bool) { return capture(reValue, text) }

// CaptureFunction returns the call of a MASKED WITH FUNCTION rule.
func CaptureFunction(text string) (string, bool) { return capture(reFunction, text) }

// CaptureTablesample returns the sampling clause of a TABLESAMPLE rule,
// e.g. "BERNOULLI(10)".
func CaptureTablesample(text string) (string, bool) { return capture(reTablesample, text) }

func capture(re *regexp.Regexp, text string) (string, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	arg := strings.TrimSpace(m[1])
	if arg == "" {
		return "", false
	}
	return arg, true
}

const defaultCacheSize = 1024

var cache, _ = lru.New[string, Rule](defaultCacheSize)

// SetCacheSize replaces the parsed-rule cache with one of the given size.
// Call it during startup, before any statement is rewritten.
func SetCacheSize(size int) error {
	c, err := lru.New[string, Rule](size)
	if err != nil {
		return err
	}
	cache = c
	return nil
}

// Parse classifies label text. Results are cached by text; parsing is a
// pure function of its input so the cache is safe to share.
func Parse(text string) Rule {
	if strings.TrimSpace(text) == "" {
		return None
	}
	if r, ok := cache.Get(text); ok {
		return r
	}
	r := parse(text)
	cache.Add(text, r)
	return r
}

// The order matters: "MASKED WITH ..." must be tried before "MASKED".
func parse(text string) Rule {
	if arg, ok := CaptureFunction(text); ok {
		return Rule{Kind: KindFunction, Text: text, Arg: arg}
	}
	if arg, ok := CaptureValue(text); ok {
		return Rule{Kind: KindValue, Text: text, Arg: arg}
	}
	if arg, ok := CaptureTablesample(text); ok {
		return Rule{Kind: KindTablesample, Text: text, Arg: arg}
	}
	switch {
	case IsNotMasked(text):
		return Rule{Kind: KindNotMasked, Text: text}
	case IsMasked(text):
		return Rule{Kind: KindMasked, Text: text}
	case IsTrusted(text):
		return Rule{Kind: KindTrusted, Text: text}
	case IsUntrusted(text):
		return Rule{Kind: KindUntrusted, Text: text}
	case IsIndirectIdentifier(text):
		return Rule{Kind: KindIndirectIdentifier, Text: text}
	}
	return Rule{Kind: KindUnknown, Text: text}
}
