package naming

import (
	"sort"
	"strings"
)

// Candidate sources, strongest operator intent first.
const (
	SourceName        = "name"
	SourceDescription = "description"
	SourceDHCP        = "dhcp"
	SourceReverseDNS  = "reverse_dns"
	SourceLLDP        = "lldp"
	SourceSerial      = "serial"
	SourceMAC         = "mac"
)

// minDisplayScore is the quality bar a candidate must clear to become a label
// on its own merit. Identifier candidates never clear it.
const minDisplayScore = 70

type sourceRule struct {
	weight   int
	hostname bool // DNS-style value: first label is displayed, spaces penalized
	lower    bool
}

var sourceRules = map[string]sourceRule{
	SourceName:        {weight: 100},
	SourceDescription: {weight: 96},
	SourceDHCP:        {weight: 92, hostname: true},
	SourceReverseDNS:  {weight: 88, hostname: true, lower: true},
	SourceLLDP:        {weight: 86, hostname: true},
	SourceSerial:      {weight: 45},
	SourceMAC:         {weight: 40, lower: true},
}

var defaultRule = sourceRule{weight: 50}

var junkNames = map[string]bool{
	"workgroup": true, "mshome": true, "__msbrowse__": true, "localdomain": true,
	"localhost": true, "unknown": true, "null": true, "none": true,
}

type Candidate struct {
	Name   string
	Source string
}

type scored struct {
	stored  string
	display string
	score   int
	ok      bool
}

// NormalizeCandidate cleans rawName for the given source and scores it. ok is
// false for empty or junk values.
func NormalizeCandidate(source, rawName string) (storedName string, displayName string, score int, ok bool) {
	s := normalize(source, rawName)
	return s.stored, s.display, s.score, s.ok
}

func normalize(source, rawName string) scored {
	rule, known := sourceRules[strings.ToLower(strings.TrimSpace(source))]
	if !known {
		rule = defaultRule
	}
	name := strings.TrimSuffix(strings.TrimSpace(rawName), ".")
	if name == "" {
		return scored{}
	}
	if rule.lower {
		name = strings.ToLower(name)
	}

	out := scored{stored: name, display: name}
	if rule.hostname && !strings.ContainsAny(name, " \t") {
		if host, _, found := strings.Cut(name, "."); found && host != "" {
			out.display = host
		}
	}
	out.score = rule.score(out.stored, out.display)
	out.ok = out.score >= 0
	return out
}

func (r sourceRule) score(stored, display string) int {
	lower := strings.ToLower(stored)
	if junk(lower) {
		return -1
	}
	s := r.weight
	if len(display) < 2 {
		s -= 50
	}
	if r.hostname {
		if strings.ContainsAny(display, " \t") {
			s -= 25
		}
		if !hostnameLabel(display) {
			s -= 20
		}
	}
	if strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".localdomain") {
		s -= 5
	}
	return s
}

// rank scores every candidate and orders usable ones best first. Equal scores
// prefer the shorter display value.
func rank(candidates []Candidate) []scored {
	out := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if s := normalize(c.Source, c.Name); s.ok {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.score != b.score:
			return a.score > b.score
		case len(a.display) != len(b.display):
			return len(a.display) < len(b.display)
		case a.display != b.display:
			return a.display < b.display
		}
		return a.stored < b.stored
	})
	return out
}

// ChooseBestDisplayName picks the highest scoring candidate above the quality bar.
func ChooseBestDisplayName(candidates []Candidate) (string, bool) {
	ranked := rank(candidates)
	if len(ranked) == 0 || ranked[0].score < minDisplayScore {
		return "", false
	}
	return ranked[0].display, true
}

// Label returns the best display label, falling back to the best identifier
// candidate and finally to fallback. It never returns "".
func Label(candidates []Candidate, fallback string) string {
	if ranked := rank(candidates); len(ranked) > 0 {
		return ranked[0].display
	}
	if strings.TrimSpace(fallback) != "" {
		return fallback
	}
	return "unnamed"
}

func hostnameLabel(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

func junk(lower string) bool {
	if lower == "" || junkNames[lower] {
		return true
	}
	return strings.Contains(lower, "in-addr.arpa") || strings.Contains(lower, "ip6.arpa")
}
