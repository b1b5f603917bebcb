package device

type State int

const (
	StateUnknown State = iota
	StateInit
	StateOn
	StateOff
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOn:
		return "ON"
	case StateOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON and YAML documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
