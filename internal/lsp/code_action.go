package lsp

// TriggerReactUICommand is the client command the quick fix invokes.
const TriggerReactUICommand = "mock-sql-lsp.triggerReactUI"

// CodeActions returns the model editing quick fix for the first diagnostic
// in the request context whose range equals the requested range, provided
// that diagnostic carries the trigger payload. It returns nil otherwise.
func CodeActions(params CodeActionParams) []CodeAction {
	for _, diag := range params.Context.Diagnostics {
		if diag.Range != params.Range {
			continue
		}
		if diag.Data == nil || diag.Data.ActionType != ActionTriggerReactUI {
			return nil
		}

		table := diag.Data.TableName
		return []CodeAction{{
			Title: "Edit Semantics for " + table,
			Kind:  CodeActionKindQuickFix,
			Command: &Command{
				Title:     "Trigger React UI",
				Command:   TriggerReactUICommand,
				Arguments: []any{table},
			},
		}}
	}
	return nil
}
