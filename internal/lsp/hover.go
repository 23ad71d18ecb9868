package lsp

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/cubelsp/pkg/semantic"
)

// NoInformation is the hover text for words the model does not know.
const NoInformation = "No information available"

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9._]+`)

// WordAt returns the run of [a-zA-Z0-9._] characters on line whose span
// contains character. Both ends are inclusive, so a cursor just past a word
// still selects it.
func WordAt(line string, character int) string {
	for _, loc := range wordPattern.FindAllStringIndex(line, -1) {
		if character >= loc[0] && character <= loc[1] {
			return line[loc[0]:loc[1]]
		}
	}
	return ""
}

// HoverText describes word using idx. Cube names take precedence over member
// names; among members the first dimension or measure in model order wins.
func HoverText(idx *semantic.Index, word string) string {
	if word == "" {
		return NoInformation
	}

	if cube, ok := idx.Cube(word); ok {
		return cubeHover(cube)
	}

	if m, ok := idx.FindMember(word); ok {
		return "**" + string(m.Kind) + ": " + m.Name + "**\n\nType: " + m.Type
	}

	return NoInformation
}

func cubeHover(cube semantic.Cube) string {
	dims := make([]string, len(cube.Dimensions))
	for i, d := range cube.Dimensions {
		dims[i] = "- Dimension: " + d.Name + " (" + d.Type + ")"
	}
	measures := make([]string, len(cube.Measures))
	for i, m := range cube.Measures {
		measures[i] = "- Measure: " + m.Name + " (" + m.Type + ")"
	}

	var b strings.Builder
	b.WriteString("**Cube: " + cube.Name + "**\n\n")
	b.WriteString(strings.Join(dims, "\n"))
	b.WriteString("\n")
	b.WriteString(strings.Join(measures, "\n"))
	return b.String()
}

// hoverAt resolves the hover for a position in doc.
func hoverAt(idx *semantic.Index, doc Document, pos Position) *Hover {
	line := doc.Line(int(pos.Line))
	word := WordAt(line, byteColumn(line, int(pos.Character)))
	return &Hover{Contents: MarkupContent{Kind: MarkupKindMarkdown, Value: HoverText(idx, word)}}
}
