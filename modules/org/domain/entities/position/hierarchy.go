package position

import (
	"sort"

	"github.com/iota-uz/salesorg/modules/org/domain/entities/unit"
)

// Hierarchy is a read-only level lookup for the positions of one unit type.
// Build one per calculation; it is never shared between calls.
type Hierarchy struct {
	levels  map[Code]int
	ordered []Code
}

func NewHierarchy(types []PositionType, unitType unit.Type) Hierarchy {
	h := Hierarchy{levels: make(map[Code]int, len(types))}
	for _, p := range types {
		if !p.AppliesTo(unitType) {
			continue
		}
		h.levels[p.Code] = p.HierarchyLevel
		h.ordered = append(h.ordered, p.Code)
	}
	sort.SliceStable(h.ordered, func(i, j int) bool {
		li, lj := h.levels[h.ordered[i]], h.levels[h.ordered[j]]
		if li != lj {
			return li < lj
		}
		return h.ordered[i] < h.ordered[j]
	})
	return h
}

func (h Hierarchy) Level(c Code) (int, bool) {
	l, ok := h.levels[c]
	return l, ok
}

// Codes returns every code from most to least senior.
func (h Hierarchy) Codes() []Code {
	return append([]Code(nil), h.ordered...)
}

// AtOrBelow returns the codes whose level is >= level.
func (h Hierarchy) AtOrBelow(level int) []Code {
	var out []Code
	for _, c := range h.ordered {
		if h.levels[c] >= level {
			out = append(out, c)
		}
	}
	return out
}

// StrictlyBetween returns the codes with senior < level < junior.
func (h Hierarchy) StrictlyBetween(senior, junior int) []Code {
	var out []Code
	for _, c := range h.ordered {
		if l := h.levels[c]; l > senior && l < junior {
			out = append(out, c)
		}
	}
	return out
}

// Levels returns the distinct levels, most senior first.
func (h Hierarchy) Levels() []int {
	var out []int
	for _, c := range h.ordered {
		l := h.levels[c]
		if len(out) == 0 || out[len(out)-1] != l {
			out = append(out, l)
		}
	}
	return out
}
