package notify

import "reobot/internal/oracle"

// FilterChanges returns the changes relevant to a watch list. An empty watch
// list means everything: all is returned as is. Otherwise the result keeps
// the original order and holds every change whose address matches a watched
// one, ignoring case. all is never modified.
func FilterChanges(all []oracle.StatusChange, watched []string) []oracle.StatusChange {
	if len(watched) == 0 {
		return all
	}
	set := make(map[string]struct{}, len(watched))
	for _, w := range watched {
		set[oracle.NormalizeAddress(w)] = struct{}{}
	}
	out := make([]oracle.StatusChange, 0, len(all))
	for _, c := range all {
		if _, ok := set[c.Key()]; ok {
			out = append(out, c)
		}
	}
	return out
}
