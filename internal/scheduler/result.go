package scheduler

// resultKind discriminates the single result slot of a task.
type resultKind int

const (
	slotEmpty    resultKind = iota // nothing produced yet
	slotProgress                   // intermediate value, overwritten per emission
	slotFinal                      // terminal value
	slotFailure                    // terminal error
)

// result is the single-slot task outcome. At any moment exactly one variant
// is populated: empty, a progress value, a final value, or an error.
type result struct {
	kind  resultKind
	value any
	err   error
}

func progressOf(v any) result { return result{kind: slotProgress, value: v} }
func finalOf(v any) result    { return result{kind: slotFinal, value: v} }
func failureOf(err error) result {
	return result{kind: slotFailure, err: err}
}
