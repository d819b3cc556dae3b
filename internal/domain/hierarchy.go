package domain

import "fmt"

// HierarchyViolations checks parent links of a document's chunks.
// The returned map is keyed by offending chunk id; an empty map means the set is consistent.
func HierarchyViolations(chunks []Chunk) map[string]error {
	byID := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	violations := make(map[string]error)
	for _, c := range chunks {
		if c.Level == LevelSection {
			if c.ParentID != "" {
				violations[c.ID] = fmt.Errorf("%w: level-1 chunk %s has parent %s", ErrDataIntegrity, c.ID, c.ParentID)
			}
			continue
		}
		if c.Level != LevelConcept && c.Level != LevelDetail {
			violations[c.ID] = fmt.Errorf("%w: chunk %s has level %d", ErrDataIntegrity, c.ID, c.Level)
			continue
		}
		parent, ok := byID[c.ParentID]
		switch {
		case !ok:
			violations[c.ID] = fmt.Errorf("%w: chunk %s references missing parent %q", ErrDataIntegrity, c.ID, c.ParentID)
		case parent.DocumentID != c.DocumentID:
			violations[c.ID] = fmt.Errorf("%w: chunk %s parent belongs to document %s", ErrDataIntegrity, c.ID, parent.DocumentID)
		case parent.Level != c.Level-1:
			violations[c.ID] = fmt.Errorf("%w: level-%d chunk %s has level-%d parent", ErrDataIntegrity, c.Level, c.ID, parent.Level)
		}
	}
	return violations
}
