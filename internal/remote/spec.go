package remote

// Spec is anything that can produce an ordered list of endpoints.
// Implementations must either return every endpoint or fail; a partial
// result is never returned alongside an error.
type Spec interface {
	RemoteAddrs() ([]Addr, error)
}

// Addrs is an ordered collection of already-resolved endpoints.
type Addrs []Addr

// RemoteAddrs returns a copy of the collection in order.
func (as Addrs) RemoteAddrs() ([]Addr, error) {
	out := make([]Addr, len(as))
	copy(out, as)
	return out, nil
}

// String is a single "host:port" specification.
type String string

// RemoteAddrs parses the specification.
func (s String) RemoteAddrs() ([]Addr, error) {
	a, err := Parse(string(s))
	if err != nil {
		return nil, err
	}
	return []Addr{a}, nil
}

// Strings is an ordered collection of "host:port" specifications.
type Strings []string

// RemoteAddrs parses every entry in order, failing on the first
// malformed one.
func (ss Strings) RemoteAddrs() ([]Addr, error) {
	out := make([]Addr, 0, len(ss))
	for _, s := range ss {
		a, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Specs concatenates several specifications, preserving order across
// and within them.
type Specs []Spec

// RemoteAddrs resolves each Spec in turn.
func (ss Specs) RemoteAddrs() ([]Addr, error) {
	var out []Addr
	for _, s := range ss {
		addrs, err := Resolve(s)
		if err != nil {
			return nil, err
		}
		out = append(out, addrs...)
	}
	if out == nil {
		out = []Addr{}
	}
	return out, nil
}

// ResolverFunc adapts a plain function to Spec.
type ResolverFunc func() ([]Addr, error)

// RemoteAddrs calls f.
func (f ResolverFunc) RemoteAddrs() ([]Addr, error) {
	return f()
}

// Resolve runs spec, guarding against a nil Spec.
func Resolve(spec Spec) ([]Addr, error) {
	if spec == nil {
		return nil, ErrNoSpec
	}
	return spec.RemoteAddrs()
}
