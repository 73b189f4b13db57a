package workflow

import (
	"github.com/clachance14/pipetrak/internal/model"
)

// Direction of a requested milestone transition.
type Direction int

const (
	DirectionComplete Direction = iota
	DirectionUncomplete
)

// standardPreds is the immediate-predecessor graph for the standard
// installation path: RECEIVE -> {ERECT|CONNECT|SUPPORT} -> PUNCH ->
// TEST -> RESTORE. The erect/connect/support siblings are
// interchangeable and gated only by RECEIVE.
var standardPreds = map[Category][]Category{
	CategoryReceive: nil,
	CategoryErect:   {CategoryReceive},
	CategoryConnect: {CategoryReceive},
	CategorySupport: {CategoryReceive},
	CategoryPunch:   {CategoryErect, CategoryConnect, CategorySupport},
	CategoryTest:    {CategoryPunch},
	CategoryRestore: {CategoryTest},
}

// fieldWeldPreds is the alternate path for field welds:
// FIT -> WELD -> VT -> {RT|UT}.
var fieldWeldPreds = map[Category][]Category{
	CategoryFit:  nil,
	CategoryWeld: {CategoryFit},
	CategoryVT:   {CategoryWeld},
	CategoryRT:   {CategoryVT},
	CategoryUT:   {CategoryVT},
}

// CanTransition reports whether completing or uncompleting the given
// milestone is currently legal for its component. Pure: no side
// effects, no storage or network access.
func CanTransition(m model.Milestone, all []model.Milestone, componentType model.ComponentType, dir Direction) bool {
	if dir == DirectionComplete {
		return CanComplete(m, all, componentType)
	}
	return CanUncomplete(m, all, componentType)
}

// CanComplete reports whether every category the milestone transitively
// depends on is already completed, evaluated against the categories
// actually present on this component. Unclassified milestones fall
// back to strict positional sequencing.
func CanComplete(m model.Milestone, all []model.Milestone, componentType model.ComponentType) bool {
	graph := activeGraph(all, componentType)
	cat := Classify(m.Name)
	if _, ok := graph[cat]; !ok {
		return positionalCanComplete(m, all)
	}

	ancestors := transitiveClosure(graph, cat)
	for _, other := range all {
		if other.ID == m.ID {
			continue
		}
		if ancestors[Classify(other.Name)] && !other.IsCompleted {
			return false
		}
	}
	return true
}

// CanUncomplete reports whether no category depending on this
// milestone is currently completed, blocking reversal of a step
// already built upon.
func CanUncomplete(m model.Milestone, all []model.Milestone, componentType model.ComponentType) bool {
	graph := activeGraph(all, componentType)
	cat := Classify(m.Name)
	if _, ok := graph[cat]; !ok {
		return positionalCanUncomplete(m, all)
	}

	descendants := descendantsOf(graph, cat)
	for _, other := range all {
		if other.ID == m.ID {
			continue
		}
		if descendants[Classify(other.Name)] && other.IsCompleted {
			return false
		}
	}
	return true
}

// activeGraph selects the dependency graph for the component. The
// field-weld path activates on component type or on a present Fit Up
// milestone.
func activeGraph(all []model.Milestone, componentType model.ComponentType) map[Category][]Category {
	if componentType == model.ComponentFieldWeld {
		return fieldWeldPreds
	}
	for _, m := range all {
		if Classify(m.Name) == CategoryFit {
			return fieldWeldPreds
		}
	}
	return standardPreds
}

// transitiveClosure returns all categories the given category depends
// on, directly or indirectly.
func transitiveClosure(graph map[Category][]Category, cat Category) map[Category]bool {
	out := make(map[Category]bool)
	var walk func(Category)
	walk = func(c Category) {
		for _, p := range graph[c] {
			if !out[p] {
				out[p] = true
				walk(p)
			}
		}
	}
	walk(cat)
	return out
}

// descendantsOf returns all categories that depend on the given
// category, directly or indirectly.
func descendantsOf(graph map[Category][]Category, cat Category) map[Category]bool {
	out := make(map[Category]bool)
	changed := true
	for changed {
		changed = false
		for c, preds := range graph {
			if out[c] {
				continue
			}
			for _, p := range preds {
				if p == cat || out[p] {
					out[c] = true
					changed = true
					break
				}
			}
		}
	}
	return out
}

func positionalCanComplete(m model.Milestone, all []model.Milestone) bool {
	for _, other := range all {
		if other.SequenceOrder < m.SequenceOrder && !other.IsCompleted {
			return false
		}
	}
	return true
}

func positionalCanUncomplete(m model.Milestone, all []model.Milestone) bool {
	for _, other := range all {
		if other.SequenceOrder > m.SequenceOrder && other.IsCompleted {
			return false
		}
	}
	return true
}
