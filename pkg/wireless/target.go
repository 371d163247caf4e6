package wireless

import "strings"

// Target filters which peer a session accepts. Empty fields match anything.
type Target struct {
	Name     string
	Address  string
	Services []string
}

// Match reports whether p satisfies every configured field. Name and
// address compare case-insensitively; every target service must be
// advertised. Peers that cannot report services pass the service filter.
func (t *Target) Match(p Peer) bool {
	if t == nil {
		return true
	}
	if t.Name != "" && !strings.EqualFold(t.Name, p.Name()) {
		return false
	}
	if t.Address != "" && !strings.EqualFold(t.Address, p.Address()) {
		return false
	}
	if len(t.Services) == 0 {
		return true
	}

	if prober, ok := p.(ServiceProber); ok {
		for _, want := range t.Services {
			if !prober.HasService(want) {
				return false
			}
		}
		return true
	}

	advertised := p.Services()
	if advertised == nil {
		return true
	}
	have := make(map[string]struct{}, len(advertised))
	for _, s := range advertised {
		have[NormalizeUUID(s)] = struct{}{}
	}
	for _, want := range t.Services {
		if _, ok := have[NormalizeUUID(want)]; !ok {
			return false
		}
	}
	return true
}

func (t *Target) String() string {
	if t == nil {
		return "any"
	}
	parts := make([]string, 0, 3)
	if t.Name != "" {
		parts = append(parts, "name="+t.Name)
	}
	if t.Address != "" {
		parts = append(parts, "address="+t.Address)
	}
	if len(t.Services) > 0 {
		parts = append(parts, "services="+strings.Join(t.Services, ","))
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}
