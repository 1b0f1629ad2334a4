package index

// Dictionary maps term strings to dense term IDs assigned in first-seen
// order. It is append-only while an index is being built and frozen after.
type Dictionary struct {
	ids   map[string]uint32
	terms []string
}

func newDictionary(capacity int) *Dictionary {
	return &Dictionary{
		ids:   make(map[string]uint32, capacity),
		terms: make([]string, 0, capacity),
	}
}

// intern returns the ID for term, assigning the next free ID on first sight.
func (d *Dictionary) intern(term string) uint32 {
	if id, ok := d.ids[term]; ok {
		return id
	}
	id := uint32(len(d.terms))
	d.ids[term] = id
	d.terms = append(d.terms, term)
	return id
}

func (d *Dictionary) Lookup(term string) (uint32, bool) {
	id, ok := d.ids[term]
	return id, ok
}

func (d *Dictionary) Term(id uint32) string {
	return d.terms[id]
}

func (d *Dictionary) Len() int {
	return len(d.terms)
}

// Terms returns the terms ordered by ID. The slice must not be modified.
func (d *Dictionary) Terms() []string {
	return d.terms
}
