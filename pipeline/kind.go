package pipeline

// StageKind classifies a stage for observability purposes. Kinds have no
// effect on scheduling; the scheduler only uses them to decide whether a
// CANCEL result is a deliberate guard early-exit.
type StageKind int

const (
	// KindGuard is a safety or validity check. A guard that returns a
	// CANCEL result aborts the run deliberately (overall status CANCELLED,
	// not FAILED).
	KindGuard StageKind = iota

	// KindEnrich augments the working context, e.g. loading session history.
	KindEnrich

	// KindTransform produces new data from its inputs, e.g. a model call.
	KindTransform

	// KindWork performs a side effect, e.g. persisting a message.
	KindWork
)

// String returns the metric/event label for the kind.
func (k StageKind) String() string {
	switch k {
	case KindGuard:
		return "guard"
	case KindEnrich:
		return "enrich"
	case KindTransform:
		return "transform"
	case KindWork:
		return "work"
	default:
		return "unknown"
	}
}
