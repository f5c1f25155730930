package sqltracking

import "fmt"

// Kind categorizes a database operation.
type Kind byte

// A list of all the kinds of operations that can be tracked.
const (
	// KindUnknown is an operation that has not been categorized.
	KindUnknown Kind = iota

	// KindMutation is a statement that alters state, e.g. INSERT, UPDATE.
	KindMutation

	// KindScalarFetch is a statement that returns a single value or row.
	KindScalarFetch

	// KindStreamingRead is a statement whose result set is iterated through a
	// cursor after the statement itself has completed.
	KindStreamingRead
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindMutation:      "mutation",
	KindScalarFetch:   "scalar",
	KindStreamingRead: "reader",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("kind(%d)", byte(k))
	}

	return name
}

// MarshalText encodes the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown operation kind %d", byte(k))
	}

	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind from its name.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}

	return fmt.Errorf("unknown operation kind %q", text)
}
