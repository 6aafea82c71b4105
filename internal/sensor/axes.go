package sensor

import (
	"fmt"
	"strings"

	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// AxisMap remaps and re-signs device axes, e.g. "-x,z,y" when the board is
// mounted on its side.
type AxisMap [3]struct {
	index int
	sign  float64
}

// IdentityAxes maps x,y,z straight through.
var IdentityAxes = mustAxes("x,y,z")

// ParseAxisMap parses a comma-separated list of three distinct axis names,
// each optionally prefixed with '-'.
func ParseAxisMap(s string) (AxisMap, error) {
	var m AxisMap
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return m, fmt.Errorf("axes %q: need 3 entries", s)
	}
	seen := map[int]bool{}
	for i, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		sign := 1.0
		if strings.HasPrefix(p, "-") {
			sign = -1
			p = p[1:]
		}
		idx := strings.Index("xyz", p)
		if len(p) != 1 || idx < 0 {
			return m, fmt.Errorf("axes %q: unknown axis %q", s, parts[i])
		}
		if seen[idx] {
			return m, fmt.Errorf("axes %q: axis %q repeated", s, p)
		}
		seen[idx] = true
		m[i].index = idx
		m[i].sign = sign
	}
	return m, nil
}

func mustAxes(s string) AxisMap {
	m, err := ParseAxisMap(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Apply converts device-frame values into a sample.
func (m AxisMap) Apply(v [3]float64) logic.Sample {
	return logic.Sample{
		X: m[0].sign * v[m[0].index],
		Y: m[1].sign * v[m[1].index],
		Z: m[2].sign * v[m[2].index],
	}
}
