package executor

import "sort"

// workingState is the flow's mutable copy of entity state plus an
// append-only delta log. Parallel branches get child states restricted to
// their entity sets; deltas merge into the parent at the join in a single
// step.
type workingState struct {
	states EntityStateMap
	deltas []StateChange
}

func newWorkingState(src EntityStateMap, entities map[string]bool) *workingState {
	ws := &workingState{states: EntityStateMap{}}
	for k, v := range src {
		if entities[k.Entity] {
			ws.states[k] = v
		}
	}
	return ws
}

// restrict derives a child working state covering only the given entities.
func (w *workingState) restrict(entities map[string]bool) *workingState {
	child := &workingState{states: EntityStateMap{}}
	for k, v := range w.states {
		if entities[k.Entity] {
			child.states[k] = v
		}
	}
	return child
}

func (w *workingState) get(k StateKey) (string, bool) {
	s, ok := w.states[k]
	return s, ok
}

func (w *workingState) apply(k StateKey, from, to, stepID string) {
	w.states[k] = to
	w.deltas = append(w.deltas, StateChange{
		Entity: k.Entity, Instance: k.Instance, From: from, To: to, StepID: stepID,
	})
}

// merge folds a child's deltas into the parent. Entity disjointness is
// proved at elaboration, so this is a plain union.
func (w *workingState) merge(child *workingState) {
	for _, d := range child.deltas {
		w.states[StateKey{Entity: d.Entity, Instance: d.Instance}] = d.To
		w.deltas = append(w.deltas, d)
	}
}

// view renders the states whose entity is in the given set, for step
// traces. Keys are sorted for stable output.
func (w *workingState) view(entities map[string]bool) map[string]string {
	out := map[string]string{}
	for k, v := range w.states {
		if entities[k.Entity] {
			out[k.String()] = v
		}
	}
	return out
}

func sortedEntitySet(entities map[string]bool) []string {
	out := make([]string, 0, len(entities))
	for e := range entities {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
