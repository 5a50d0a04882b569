package normalizer

import (
	"regexp"
	"strings"
)

// ProviderPattern maps spelling variants of a provider to its canonical name
type ProviderPattern struct {
	Pattern *regexp.Regexp
	Name    string
}

// ProviderCanonicalizer turns the provider names found in filenames and
// report rows into the canonical form used as a lookup key.
type ProviderCanonicalizer struct {
	patterns []ProviderPattern
	aliases  []ProviderAlias
}

// NewProviderCanonicalizer creates a canonicalizer with the built-in patterns
func NewProviderCanonicalizer() *ProviderCanonicalizer {
	return &ProviderCanonicalizer{
		patterns: defaultProviderPatterns(),
	}
}

// WithAliases adds operator-defined aliases. They are tried before the
// built-in patterns, in the order given.
func (c *ProviderCanonicalizer) WithAliases(aliases []ProviderAlias) *ProviderCanonicalizer {
	c.aliases = append(c.aliases, aliases...)
	return c
}

// Canonicalize returns the canonical provider name for raw
func (c *ProviderCanonicalizer) Canonicalize(raw string) string {
	name, _ := c.CanonicalizeMatch(raw)
	return name
}

// CanonicalizeMatch is Canonicalize that also returns the alias that matched, if any
func (c *ProviderCanonicalizer) CanonicalizeMatch(raw string) (string, *ProviderAlias) {
	cleaned := cleanProviderName(raw)
	if cleaned == "" {
		return "", nil
	}

	for i := range c.aliases {
		a := &c.aliases[i]
		if a.Matches(raw) || a.Matches(cleaned) {
			return cleanProviderName(a.ProviderName), a
		}
	}

	for _, p := range c.patterns {
		if p.Pattern.MatchString(cleaned) {
			return p.Name, nil
		}
	}

	return cleaned, nil
}

// cleanProviderName drops everything but ASCII letters and digits and upper-cases the rest
func cleanProviderName(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.Join(strings.Fields(raw), " ")) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// defaultProviderPatterns returns the known spelling variants of SDP providers
func defaultProviderPatterns() []ProviderPattern {
	return []ProviderPattern{
		// NTH ships reports as "NTH", "NTH Media", "NTHMEDIA", "NTH Apps" and so on
		{regexp.MustCompile(`^NTH`), "NTH"},
		{regexp.MustCompile(`NTH(MEDIA|APPS|MOBILE)`), "NTH"},
		{regexp.MustCompile(`^COMTRADE`), "COMTRADEITSS"},
		{regexp.MustCompile(`^ONECLICK`), "ONECLICKSOLUTIONS"},
		{regexp.MustCompile(`^(CEPP|JPPOSTA|POSTA)$`), "JPPOSTA"},
		{regexp.MustCompile(`^(NPAY|NUEWOO)`), "NUEWOO"},
		{regexp.MustCompile(`^(EKG|PROCESSCOM)$`), "PROCESSCOM"},
	}
}
