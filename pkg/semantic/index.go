package semantic

import "sync/atomic"

// Index is an immutable, insertion-ordered view of a semantic model snapshot.
// A nil *Index behaves like an empty model.
type Index struct {
	cubes  []Cube
	byName map[string]int
}

// BuildIndex builds an index from cubes without mutating them.
// When two cubes share a name the last definition wins but keeps the
// position of the first one.
func BuildIndex(cubes []Cube) *Index {
	idx := &Index{
		cubes:  make([]Cube, 0, len(cubes)),
		byName: make(map[string]int, len(cubes)),
	}
	for _, c := range cubes {
		c = c.clone()
		if i, ok := idx.byName[c.Name]; ok {
			idx.cubes[i] = c
			continue
		}
		idx.byName[c.Name] = len(idx.cubes)
		idx.cubes = append(idx.cubes, c)
	}
	return idx
}

// Len returns the number of cubes.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.cubes)
}

// Has reports whether a cube with the given name exists.
func (i *Index) Has(name string) bool {
	if i == nil {
		return false
	}
	_, ok := i.byName[name]
	return ok
}

// Cube returns the cube with the given name.
func (i *Index) Cube(name string) (Cube, bool) {
	if i == nil {
		return Cube{}, false
	}
	pos, ok := i.byName[name]
	if !ok {
		return Cube{}, false
	}
	return i.cubes[pos], true
}

// Cubes returns the cubes in insertion order.
func (i *Index) Cubes() []Cube {
	if i == nil {
		return nil
	}
	return append([]Cube(nil), i.cubes...)
}

// Names returns the cube names in insertion order.
func (i *Index) Names() []string {
	if i == nil {
		return nil
	}
	names := make([]string, len(i.cubes))
	for n, c := range i.cubes {
		names[n] = c.Name
	}
	return names
}

// JoinTemplates returns the raw SQL templates of every join, declared on any
// cube, whose key equals target. Relationships are looked up by join key
// rather than by declaring cube so that both sides of a pair are honoured.
func (i *Index) JoinTemplates(target string) []string {
	if i == nil {
		return nil
	}
	var templates []string
	for _, c := range i.cubes {
		for _, j := range c.Joins {
			if j.Target == target {
				templates = append(templates, j.SQL)
			}
		}
	}
	return templates
}

// MemberKind distinguishes dimensions from measures.
type MemberKind string

// Member kinds.
const (
	MemberDimension MemberKind = "Dimension"
	MemberMeasure   MemberKind = "Measure"
)

// Member is a dimension or measure found by FindMember.
type Member struct {
	Kind MemberKind
	Name string
	Type string
	Cube string
}

// FindMember returns the first dimension or measure called name, scanning
// cubes in insertion order and, within a cube, dimensions before measures.
func (i *Index) FindMember(name string) (Member, bool) {
	if i == nil {
		return Member{}, false
	}
	for _, c := range i.cubes {
		if d, ok := c.Dimension(name); ok {
			return Member{Kind: MemberDimension, Name: d.Name, Type: d.Type, Cube: c.Name}, true
		}
		if m, ok := c.Measure(name); ok {
			return Member{Kind: MemberMeasure, Name: m.Name, Type: m.Type, Cube: c.Name}, true
		}
	}
	return Member{}, false
}

// Model holds the current index snapshot. Replacing it is a single pointer
// swap, so readers never observe a partially updated model.
type Model struct {
	current atomic.Pointer[Index]
}

// NewModel returns a Model holding idx.
func NewModel(idx *Index) *Model {
	m := &Model{}
	m.current.Store(idx)
	return m
}

// Load returns the current snapshot (possibly nil).
func (m *Model) Load() *Index {
	return m.current.Load()
}

// Swap installs idx and returns the previous snapshot.
func (m *Model) Swap(idx *Index) *Index {
	return m.current.Swap(idx)
}
