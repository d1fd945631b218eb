package pipeline

// Input is the read view a stage executes against: the genesis snapshot plus
// the terminal results of exactly the stage's declared dependencies. The
// scheduler constructs one Input per stage execution; a stage cannot reach
// the output of a stage it did not declare.
type Input struct {
	snapshot ContextSnapshot
	deps     map[string]StageResult
}

// NewInput builds an Input from the genesis snapshot and the dependency
// results visible to one stage. The deps map is not copied; callers must not
// mutate it afterwards.
func NewInput(snapshot ContextSnapshot, deps map[string]StageResult) Input {
	return Input{snapshot: snapshot, deps: deps}
}

// Snapshot returns the genesis context snapshot.
func (in Input) Snapshot() ContextSnapshot {
	return in.snapshot
}

// Dep returns the terminal result of a declared dependency. The second
// return is false for undeclared stages, enforcing that data flow follows
// the declared DAG rather than execution order.
func (in Input) Dep(name string) (StageResult, bool) {
	r, ok := in.deps[name]
	return r, ok
}

// Value looks up a payload key produced by a declared dependency. Absent for
// undeclared stages, skipped dependencies, and missing keys alike: stages
// treat absence as "not provided", never as an error.
func (in Input) Value(stage, key string) (any, bool) {
	r, ok := in.deps[stage]
	if !ok || r.Payload == nil {
		return nil, false
	}
	v, ok := r.Payload[key]
	return v, ok
}

// String looks up a payload key and returns it as a string. Empty string
// when absent or not a string.
func (in Input) String(stage, key string) string {
	v, ok := in.Value(stage, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
