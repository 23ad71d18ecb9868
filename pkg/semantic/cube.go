// Package semantic holds the semantic model: cubes with their dimensions,
// measures, joins and segments, and the immutable index the analyzers query.
package semantic

// Relationship is the declared cardinality of a join between two cubes.
type Relationship string

// Known relationships.
const (
	RelationshipBelongsTo Relationship = "belongsTo"
	RelationshipHasMany   Relationship = "hasMany"
	RelationshipHasOne    Relationship = "hasOne"
)

// Valid reports whether r is one of the known relationships.
func (r Relationship) Valid() bool {
	switch r {
	case RelationshipBelongsTo, RelationshipHasMany, RelationshipHasOne:
		return true
	default:
		return false
	}
}

// Dimension is an attribute of a cube.
type Dimension struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	SQL         string `json:"sql,omitempty"`
	PrimaryKey  bool   `json:"primaryKey,omitempty"`
	Shown       *bool  `json:"shown,omitempty"`
	Description string `json:"description,omitempty"`
	Format      string `json:"format,omitempty"`
}

// Measure is an aggregation declared on a cube.
type Measure struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	SQL    string `json:"sql,omitempty"`
	Format string `json:"format,omitempty"`
}

// Join declares a relationship from the owning cube to Target.
// SQL is a predicate template that may reference cubes as ${cube}.
type Join struct {
	Target       string       `json:"target"`
	Relationship Relationship `json:"relationship,omitempty"`
	SQL          string       `json:"sql"`
}

// Segment is a named, reusable filter.
type Segment struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
}

// Cube is a named logical table. Member slices keep declaration order.
type Cube struct {
	Name       string      `json:"name"`
	Dimensions []Dimension `json:"dimensions,omitempty"`
	Measures   []Measure   `json:"measures,omitempty"`
	Joins      []Join      `json:"joins,omitempty"`
	Segments   []Segment   `json:"segments,omitempty"`
}

// Dimension returns the dimension with the given name.
func (c *Cube) Dimension(name string) (Dimension, bool) {
	for _, d := range c.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// Measure returns the measure with the given name.
func (c *Cube) Measure(name string) (Measure, bool) {
	for _, m := range c.Measures {
		if m.Name == name {
			return m, true
		}
	}
	return Measure{}, false
}

// clone returns a copy whose member slices do not alias c's.
func (c Cube) clone() Cube {
	out := Cube{Name: c.Name}
	out.Dimensions = append([]Dimension(nil), c.Dimensions...)
	out.Measures = append([]Measure(nil), c.Measures...)
	out.Joins = append([]Join(nil), c.Joins...)
	out.Segments = append([]Segment(nil), c.Segments...)
	return out
}

// setDimension appends d, or replaces an existing dimension of the same name in place.
func (c *Cube) setDimension(d Dimension) {
	for i := range c.Dimensions {
		if c.Dimensions[i].Name == d.Name {
			c.Dimensions[i] = d
			return
		}
	}
	c.Dimensions = append(c.Dimensions, d)
}

func (c *Cube) setMeasure(m Measure) {
	for i := range c.Measures {
		if c.Measures[i].Name == m.Name {
			c.Measures[i] = m
			return
		}
	}
	c.Measures = append(c.Measures, m)
}

func (c *Cube) setJoin(j Join) {
	for i := range c.Joins {
		if c.Joins[i].Target == j.Target {
			c.Joins[i] = j
			return
		}
	}
	c.Joins = append(c.Joins, j)
}

func (c *Cube) setSegment(s Segment) {
	for i := range c.Segments {
		if c.Segments[i].Name == s.Name {
			c.Segments[i] = s
			return
		}
	}
	c.Segments = append(c.Segments, s)
}
