package astifilter

// Capability declares one property combination a filter's pin will accept.
type Capability struct {
	// Excluded forbids the listed values instead of requiring them.
	Excluded bool
	In       bool
	Key      PropertyKey
	// Negotiable lets the filter adapt when the candidate value doesn't
	// match: the matcher then returns the first declared value as the one
	// the upstream producer should switch to.
	Negotiable bool
	Out        bool
	Values     []Property
}

// CapabilityBundle is one alternative group of capabilities. A candidate pin
// must satisfy every capability of a bundle for the bundle to match.
type CapabilityBundle []Capability

// Capabilities are evaluated in declaration order: the first bundle that
// doesn't return a no-match wins.
type Capabilities []CapabilityBundle

type MatchResult uint32

const (
	MatchResultNoMatch MatchResult = iota
	MatchResultMatch
	MatchResultNegotiate
)

func (r MatchResult) String() string {
	switch r {
	case MatchResultMatch:
		return "match"
	case MatchResultNegotiate:
		return "negotiate required"
	default:
		return "no match"
	}
}

// PreferredProperty is the value a negotiating filter asks its upstream
// producer to switch to.
type PreferredProperty struct {
	Key      PropertyKey
	Property Property
}

type Match struct {
	// Bundle is the index of the winning bundle. Only meaningful when Result
	// is not a no-match.
	Bundle      int
	Preferences []PreferredProperty
	Result      MatchResult
}

// MatchCaps compares declared input capabilities against a candidate pin's
// property set. An absent required key is a no-match, never a wildcard.
func MatchCaps(cs Capabilities, ps *Properties) Match {
	// Loop through bundles
	for idx, b := range cs {
		// Match bundle
		m, ok := matchBundle(b, ps)
		if !ok {
			continue
		}

		// First bundle that doesn't return a no-match wins
		m.Bundle = idx
		return m
	}
	return Match{Result: MatchResultNoMatch}
}

func matchBundle(b CapabilityBundle, ps *Properties) (m Match, ok bool) {
	// Loop through capabilities
	for _, c := range b {
		// Output-only capabilities don't constrain the candidate pin
		if c.Out && !c.In {
			continue
		}

		// Get candidate value
		v, found := ps.Get(c.Key)

		// Excluded key
		if c.Excluded {
			if found && containsProperty(c.Values, v) {
				return Match{Result: MatchResultNoMatch}, false
			}
			continue
		}

		// Required key absent
		if !found {
			return Match{Result: MatchResultNoMatch}, false
		}

		// Accepted value
		if containsProperty(c.Values, v) {
			continue
		}

		// Mismatched value with a negotiation path
		if c.Negotiable && len(c.Values) > 0 {
			m.Preferences = append(m.Preferences, PreferredProperty{
				Key:      c.Key,
				Property: c.Values[0],
			})
			continue
		}

		// Mismatched value with no negotiation path
		return Match{Result: MatchResultNoMatch}, false
	}

	// Get result
	m.Result = MatchResultMatch
	if len(m.Preferences) > 0 {
		m.Result = MatchResultNegotiate
	}
	return m, true
}

func containsProperty(vs []Property, v Property) bool {
	for _, i := range vs {
		if i.Equal(v) {
			return true
		}
	}
	return false
}
