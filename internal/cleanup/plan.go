// Package cleanup reconciles the search index and the archive store with
// deletions that have already been committed to the store of record.
package cleanup

// Step is the secondary-store work left behind by one destroyed collection.
type Step struct {
	CollectionID int64
	LinkIDs      []int64
	Namespaces   []string
}

// Plan lists steps in the order collections were destroyed (deepest first, root last).
type Plan struct {
	Steps []Step
}

func (p *Plan) Add(step Step) {
	p.Steps = append(p.Steps, step)
}

// LinkIDs returns every link id of the plan in step order.
func (p *Plan) LinkIDs() []int64 {
	var ids []int64
	for _, s := range p.Steps {
		ids = append(ids, s.LinkIDs...)
	}
	return ids
}

// CollectionIDs returns the destroyed collections in step order.
func (p *Plan) CollectionIDs() []int64 {
	ids := make([]int64, 0, len(p.Steps))
	for _, s := range p.Steps {
		ids = append(ids, s.CollectionID)
	}
	return ids
}

func (p *Plan) Empty() bool {
	return len(p.Steps) == 0
}
