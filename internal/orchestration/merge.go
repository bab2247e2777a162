package orchestration

import "strings"

// Apply applies an ordered list of modifications to a base document and
// returns the updated document plus the number of modifications that landed.
//
// Modifications are applied strictly in list order against the evolving
// document, so when two modifications target overlapping spans the later one
// wins. That resolution is deliberate: agents occasionally propose edits
// around the same sentence and the pipeline favours the most recent
// proposal over raising a conflict.
//
// A modification whose anchor is not present in the document is skipped,
// not an error. Content outside the edited spans is preserved exactly, and
// Apply is a pure function: re-applying the same list to the same base
// yields the same document.
func Apply(base string, mods []Modification) (string, int) {
	doc := base
	applied := 0
	for _, m := range mods {
		if m.Anchor == "" || m.Text == "" {
			continue
		}
		idx := strings.Index(doc, m.Anchor)
		if idx < 0 {
			continue
		}
		switch m.Mode {
		case ModReplace:
			doc = doc[:idx] + m.Text + doc[idx+len(m.Anchor):]
		case ModInsertAfter:
			end := idx + len(m.Anchor)
			doc = doc[:end] + m.Text + doc[end:]
		default:
			continue
		}
		applied++
	}
	return doc, applied
}
