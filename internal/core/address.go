package core

import "strings"

// Address names an agent as "project-slug:agent-name". The project part may
// be omitted when context supplies one.
type Address struct {
	Project string `json:"project,omitempty"`
	Name    string `json:"name"`
}

// ParseAddress splits an address string on the first colon. A bare name
// parses with an empty Project.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, &ValidationError{Reason: "empty agent address"}
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		addr := Address{Project: s[:i], Name: s[i+1:]}
		if addr.Project == "" || addr.Name == "" {
			return Address{}, &ValidationError{Reason: "address must be \"project:name\" or \"name\""}
		}
		return addr, nil
	}
	return Address{Name: s}, nil
}

// WithDefaultProject fills an empty project part.
func (a Address) WithDefaultProject(project string) Address {
	if a.Project == "" {
		a.Project = project
	}
	return a
}

func (a Address) String() string {
	if a.Project == "" {
		return a.Name
	}
	return a.Project + ":" + a.Name
}
