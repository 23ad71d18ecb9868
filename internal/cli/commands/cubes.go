package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cubelsp/internal/cli/output"
	"github.com/leapstack-labs/cubelsp/pkg/semantic"
)

// NewCubesCommand creates the cubes command.
func NewCubesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cubes [cube]",
		Short: "List the cubes of the semantic model",
		Long: `List the cubes the language server validates against.

Without arguments every cube is listed with its member counts and join
targets. Naming a cube lists its members.

Output adapts to environment:
  - Terminal: Styled tables
  - Piped/Scripted: Markdown format (agent-friendly)

Use --output to override: auto, text, markdown, json`,
		Example: `  # Summarize the model
  cubelsp cubes --model cubes.yaml

  # Members of one cube as JSON
  cubelsp cubes orders -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCubes(cmd, args)
		},
	}

	return cmd
}

func runCubes(cmd *cobra.Command, args []string) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	idx, err := cmdCtx.LoadIndex(true)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		cube, ok := idx.Cube(args[0])
		if !ok {
			return fmt.Errorf("cube %q not found in %s", args[0], cmdCtx.Cfg.Model)
		}
		return cubeMembers(r, cube)
	}

	cubes := idx.Cubes()
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(cubes)
	case output.ModeMarkdown:
		cubesMarkdown(r, cubes)
	default:
		cubesText(r, cubes)
	}
	return nil
}

func joinTargets(c semantic.Cube) string {
	targets := make([]string, 0, len(c.Joins))
	for _, j := range c.Joins {
		targets = append(targets, j.Target)
	}
	return strings.Join(targets, ", ")
}

func cubesText(r *output.Renderer, cubes []semantic.Cube) {
	r.Header(1, fmt.Sprintf("Cubes (%d total)", len(cubes)))

	rows := make([]table.Row, 0, len(cubes))
	for _, c := range cubes {
		rows = append(rows, table.Row{
			r.Styles().Bold.Render(c.Name),
			len(c.Dimensions),
			len(c.Measures),
			len(c.Segments),
			joinTargets(c),
		})
	}
	r.Table(table.Row{"Cube", "Dimensions", "Measures", "Segments", "Joins"}, rows)
}

func cubesMarkdown(r *output.Renderer, cubes []semantic.Cube) {
	r.Println(output.FormatHeader(1, fmt.Sprintf("Cubes (%d total)", len(cubes))))
	r.Println("")

	for _, c := range cubes {
		r.Println(output.FormatHeader(2, c.Name))
		r.Println(output.FormatKeyValue("Dimensions", fmt.Sprintf("%d", len(c.Dimensions))))
		r.Println(output.FormatKeyValue("Measures", fmt.Sprintf("%d", len(c.Measures))))
		if len(c.Segments) > 0 {
			r.Println(output.FormatKeyValue("Segments", fmt.Sprintf("%d", len(c.Segments))))
		}
		if len(c.Joins) > 0 {
			r.Println(output.FormatKeyValue("Joins", joinTargets(c)))
		}
		r.Println("")
	}
}

// cubeMembers lists the dimensions, measures and segments of one cube.
func cubeMembers(r *output.Renderer, c semantic.Cube) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(c)
	}

	rows := make([]table.Row, 0, len(c.Dimensions)+len(c.Measures)+len(c.Segments))
	for _, d := range c.Dimensions {
		kind := string(semantic.MemberDimension)
		if d.PrimaryKey {
			kind += " (pk)"
		}
		rows = append(rows, table.Row{d.Name, kind, d.Type, d.SQL})
	}
	for _, m := range c.Measures {
		rows = append(rows, table.Row{m.Name, string(semantic.MemberMeasure), m.Type, m.SQL})
	}
	for _, s := range c.Segments {
		rows = append(rows, table.Row{s.Name, "Segment", "", s.SQL})
	}

	r.Header(1, c.Name)
	r.Table(table.Row{"Member", "Kind", "Type", "SQL"}, rows)

	if len(c.Joins) > 0 {
		r.Println("")
		r.Header(2, "Joins")
		joins := make([]table.Row, 0, len(c.Joins))
		for _, j := range c.Joins {
			joins = append(joins, table.Row{j.Target, string(j.Relationship), j.SQL})
		}
		r.Table(table.Row{"Target", "Relationship", "SQL"}, joins)
	}
	return nil
}
