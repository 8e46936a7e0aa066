package authz

// conditionsSatisfied reports whether the caller-supplied context covers every
// key of the grant's required conditions with an identical value. Extra keys
// in the context are ignored; an empty requirement always matches.
func conditionsSatisfied(required, supplied map[string]string) bool {
	if len(required) == 0 {
		return true
	}
	for key, want := range required {
		got, ok := supplied[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}
