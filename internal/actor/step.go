package actor

// Replay folds inputs through a reducer starting from state and returns the
// final state with every effect produced along the way, in order.
//
// It is meant for reducer-level tests: nothing is executed.
func Replay[S any](state S, reducer ReducerFunc[S], inputs ...Input) (S, []Effect) {
	var all []Effect
	for _, in := range inputs {
		var effects []Effect
		state, effects = reducer(state, in)
		all = append(all, effects...)
	}
	return state, all
}
