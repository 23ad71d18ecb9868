package lsp

import "github.com/leapstack-labs/cubelsp/pkg/semantic"

// Completions lists every cube with its members in model order: the cube
// itself, then dimensions, measures, joins and segments. Filtering is left to
// the client.
func Completions(idx *semantic.Index) []CompletionItem {
	items := []CompletionItem{}

	for _, cube := range idx.Cubes() {
		items = append(items, CompletionItem{
			Label:  cube.Name,
			Kind:   CompletionItemKindVariable,
			Detail: "Cube",
		})

		for _, d := range cube.Dimensions {
			items = append(items, CompletionItem{
				Label:         d.Name,
				Kind:          CompletionItemKindField,
				Detail:        "Dimension of " + cube.Name,
				Documentation: d.Description,
			})
		}
		for _, m := range cube.Measures {
			items = append(items, CompletionItem{
				Label:  m.Name,
				Kind:   CompletionItemKindVariable,
				Detail: "Measure of " + cube.Name,
			})
		}
		for _, j := range cube.Joins {
			items = append(items, CompletionItem{
				Label:  j.Target,
				Kind:   CompletionItemKindModule,
				Detail: "Join for " + cube.Name,
			})
		}
		for _, s := range cube.Segments {
			items = append(items, CompletionItem{
				Label:  s.Name,
				Kind:   CompletionItemKindKeyword,
				Detail: "Segment of " + cube.Name,
			})
		}
	}

	return items
}
