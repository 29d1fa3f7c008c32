package index

import "github.com/kailas-cloud/policyrag/internal/domain/chunk"

// Plan is the diff between the chunks a policy should have and what is stored.
type Plan struct {
	New       []chunk.Chunk
	Changed   []chunk.Chunk
	Unchanged []chunk.Chunk
	// Restamp holds unchanged-content chunks whose other attributes moved.
	Restamp []chunk.Chunk
	// Orphans holds every stored chunk to delete, including the previous
	// versions of changed chunks.
	Orphans []chunk.Ref
	// Superseded counts the orphans that are previous versions of changed chunks.
	Superseded int
}

// ToEmbed returns new and changed chunks, the only ones sent to the embedder.
func (p Plan) ToEmbed() []chunk.Chunk {
	out := make([]chunk.Chunk, 0, len(p.New)+len(p.Changed))
	out = append(out, p.New...)
	return append(out, p.Changed...)
}

// OrphanIDs returns the ids of stored chunks no longer produced.
func (p Plan) OrphanIDs() []string {
	ids := make([]string, len(p.Orphans))
	for i, r := range p.Orphans {
		ids[i] = r.ID
	}
	return ids
}

// Removed counts orphans whose source element is gone.
func (p Plan) Removed() int { return len(p.Orphans) - p.Superseded }

// Empty reports whether nothing needs to be written or deleted.
func (p Plan) Empty() bool {
	return len(p.New) == 0 && len(p.Changed) == 0 && len(p.Restamp) == 0 && len(p.Orphans) == 0
}

// Diff classifies produced chunks against stored refs.
//
// A produced chunk whose id is stored under the same model is unchanged, or
// needs a restamp if its stamp moved. A produced chunk with no stored id is
// changed when the store holds another chunk rendered from the same source
// element, new otherwise. Stored ids not produced are orphans. force and a
// model mismatch both re-embed unchanged content.
func Diff(produced []chunk.Chunk, stored []chunk.Ref, model string, force bool) Plan {
	byID := make(map[string]chunk.Ref, len(stored))
	elements := make(map[string]bool, len(stored))
	for _, r := range stored {
		byID[r.ID] = r
		elements[string(r.Type)+"/"+r.Element] = true
	}

	var plan Plan
	seen := make(map[string]bool, len(produced))
	producedElements := make(map[string]bool, len(produced))
	for _, c := range produced {
		seen[c.ID] = true
		producedElements[string(c.Type)+"/"+c.Element] = true
		ref, ok := byID[c.ID]
		switch {
		case ok && (force || ref.EmbeddingModel != model):
			plan.Changed = append(plan.Changed, c)
		case ok && ref.Stamp != c.Stamp():
			plan.Restamp = append(plan.Restamp, c)
		case ok:
			plan.Unchanged = append(plan.Unchanged, c)
		case elements[string(c.Type)+"/"+c.Element]:
			plan.Changed = append(plan.Changed, c)
		default:
			plan.New = append(plan.New, c)
		}
	}

	for _, r := range stored {
		if seen[r.ID] {
			continue
		}
		plan.Orphans = append(plan.Orphans, r)
		if producedElements[string(r.Type)+"/"+r.Element] {
			plan.Superseded++
		}
	}
	return plan
}
