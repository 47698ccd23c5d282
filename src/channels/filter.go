package channels

// Wildcard matches any routing value, on either side of the comparison.
const Wildcard = "*"

// FilterSpec maps routing keys to expected values. A payload is delivered
// when every key present in both the filter and the routing keys matches;
// keys known to only one side are ignored.
type FilterSpec map[string]string

// Matches applies the filter to a payload's routing keys.
func (f FilterSpec) Matches(routing map[string]string) bool {
	for key, expected := range f {
		actual, ok := routing[key]
		if !ok {
			continue
		}
		if expected == Wildcard || actual == Wildcard {
			continue
		}
		if expected != actual {
			return false
		}
	}
	return true
}

// MatchAll subscribes to every event on a channel.
func MatchAll() FilterSpec {
	return FilterSpec{}
}
