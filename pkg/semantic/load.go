package semantic

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DecodeError reports a malformed node in a model document.
type DecodeError struct {
	Line    int
	Message string
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

func decodeErrorf(n *yaml.Node, format string, args ...any) error {
	return &DecodeError{Line: n.Line, Message: fmt.Sprintf(format, args...)}
}

// LoadFile reads cube definitions from a YAML or JSON file.
func LoadFile(path string) ([]Cube, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from user configuration
	if err != nil {
		return nil, fmt.Errorf("read semantic model %s: %w", path, err)
	}
	cubes, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load semantic model %s: %w", path, err)
	}
	return cubes, nil
}

// Decode parses cube definitions from YAML or JSON. The document is either a
// list of cubes or a mapping with a "cubes" or "schemas" list. Mapping order
// in the source becomes member order in the result.
func Decode(data []byte) ([]Cube, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse semantic model: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		root = root.Content[0]
	}

	list := root
	if root.Kind == yaml.MappingNode {
		list = nil
		for k := 0; k+1 < len(root.Content); k += 2 {
			switch root.Content[k].Value {
			case "cubes", "schemas":
				list = root.Content[k+1]
			}
		}
		if list == nil {
			return nil, decodeErrorf(root, "expected a \"cubes\" or \"schemas\" list")
		}
	}
	if list.Kind == yaml.ScalarNode && list.Tag == "!!null" {
		return nil, nil
	}
	if list.Kind != yaml.SequenceNode {
		return nil, decodeErrorf(list, "expected a list of cubes")
	}

	cubes := make([]Cube, 0, len(list.Content))
	for _, item := range list.Content {
		var c Cube
		if err := item.Decode(&c); err != nil {
			return nil, err
		}
		cubes = append(cubes, c)
	}
	return cubes, nil
}

type dimensionSpec struct {
	SQL             string `yaml:"sql"`
	Type            string `yaml:"type"`
	PrimaryKey      bool   `yaml:"primaryKey"`
	PrimaryKeySnake bool   `yaml:"primary_key"`
	Shown           *bool  `yaml:"shown"`
	Description     string `yaml:"description"`
	Format          string `yaml:"format"`
}

type measureSpec struct {
	SQL    string `yaml:"sql"`
	Type   string `yaml:"type"`
	Format string `yaml:"format"`
}

type joinSpec struct {
	Relationship Relationship `yaml:"relationship"`
	SQL          string       `yaml:"sql"`
}

type segmentSpec struct {
	SQL string `yaml:"sql"`
}

// UnmarshalYAML decodes a cube mapping, keeping member declaration order.
// Both "name" and "cubeName" are accepted for the cube name.
func (c *Cube) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return decodeErrorf(value, "cube must be a mapping")
	}

	var out Cube
	for k := 0; k+1 < len(value.Content); k += 2 {
		key, val := value.Content[k], value.Content[k+1]
		var err error
		switch key.Value {
		case "name", "cubeName":
			out.Name = val.Value
		case "dimensions":
			err = eachMember(val, func(name string, n *yaml.Node) error {
				var spec dimensionSpec
				if err := n.Decode(&spec); err != nil {
					return err
				}
				out.setDimension(Dimension{
					Name:        name,
					Type:        spec.Type,
					SQL:         spec.SQL,
					PrimaryKey:  spec.PrimaryKey || spec.PrimaryKeySnake,
					Shown:       spec.Shown,
					Description: spec.Description,
					Format:      spec.Format,
				})
				return nil
			})
		case "measures":
			err = eachMember(val, func(name string, n *yaml.Node) error {
				var spec measureSpec
				if err := n.Decode(&spec); err != nil {
					return err
				}
				out.setMeasure(Measure{Name: name, Type: spec.Type, SQL: spec.SQL, Format: spec.Format})
				return nil
			})
		case "joins":
			err = eachMember(val, func(name string, n *yaml.Node) error {
				var spec joinSpec
				if err := n.Decode(&spec); err != nil {
					return err
				}
				out.setJoin(Join{Target: name, Relationship: spec.Relationship, SQL: spec.SQL})
				return nil
			})
		case "segments":
			err = eachMember(val, func(name string, n *yaml.Node) error {
				var spec segmentSpec
				if err := n.Decode(&spec); err != nil {
					return err
				}
				out.setSegment(Segment{Name: name, SQL: spec.SQL})
				return nil
			})
		}
		if err != nil {
			return fmt.Errorf("cube %q %s: %w", out.Name, key.Value, err)
		}
	}

	if out.Name == "" {
		return decodeErrorf(value, "cube is missing a name")
	}
	*c = out
	return nil
}

// eachMember walks a name -> definition mapping in source order.
// A null node is an empty mapping.
func eachMember(n *yaml.Node, fn func(name string, def *yaml.Node) error) error {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return decodeErrorf(n, "expected a mapping")
	}
	for k := 0; k+1 < len(n.Content); k += 2 {
		name := n.Content[k].Value
		if name == "" {
			return decodeErrorf(n.Content[k], "member name is empty")
		}
		if err := fn(name, n.Content[k+1]); err != nil {
			return err
		}
	}
	return nil
}

// IsDecodeError reports whether err was caused by a malformed model document.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
