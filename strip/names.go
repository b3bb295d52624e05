package strip

import (
	"errors"
	"fmt"
)

// ErrClientNameInUse is returned when a strip cannot take over a graph
// client name held by a running strip.
var ErrClientNameInUse = errors.New("strip: client name in use")

// Names hands out graph client names to the strips of one mixer. A strip
// keeps its name for its whole life, so removing an earlier strip never
// makes two strips share a client. Names is used on the control goroutine
// only.
type Names struct {
	owners map[string]*Strip
}

// NewNames returns an empty allocator.
func NewNames() *Names {
	return &Names{owners: make(map[string]*Strip)}
}

// acquire gives s preferred when it is free, otherwise the lowest free
// "strip<k>".
func (n *Names) acquire(s *Strip, preferred string) string {
	if _, taken := n.owners[preferred]; !taken {
		n.owners[preferred] = s
		return preferred
	}
	for k := 0; ; k++ {
		name := fmt.Sprintf("strip%d", k)
		if _, taken := n.owners[name]; !taken {
			n.owners[name] = s
			return name
		}
	}
}

// claim moves name to s. A stopped holder gets the name s gives up.
func (n *Names) claim(s *Strip, name string) error {
	if s.id == name {
		return nil
	}
	if s.Running() {
		return fmt.Errorf("%w: %s is running as %s", ErrClientNameInUse, s.Address(), s.id)
	}
	holder, taken := n.owners[name]
	if taken && holder.Running() {
		return fmt.Errorf("%w: %s", ErrClientNameInUse, name)
	}
	old := s.id
	delete(n.owners, old)
	if taken {
		n.owners[old] = holder
		holder.setID(old)
	}
	n.owners[name] = s
	s.setID(name)
	return nil
}

// release frees the name held by s.
func (n *Names) release(s *Strip) {
	if n.owners[s.id] == s {
		delete(n.owners, s.id)
	}
}

// Len returns the number of names in use.
func (n *Names) Len() int { return len(n.owners) }
