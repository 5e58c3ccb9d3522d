// internal/models/role.go
package models

import (
	"encoding/json"
	"fmt"
)

// Role is assigned once per pairing. The server role is the only writer of game state.
type Role int

const (
	NoRole Role = iota
	ServerRole
	ClientRole
)

func (r Role) String() string {
	switch r {
	case ServerRole:
		return "server"
	case ClientRole:
		return "client"
	default:
		return "none"
	}
}

// Other returns the opposite role.
func (r Role) Other() Role {
	switch r {
	case ServerRole:
		return ClientRole
	case ClientRole:
		return ServerRole
	default:
		return NoRole
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "server":
		*r = ServerRole
	case "client":
		*r = ClientRole
	case "none", "":
		*r = NoRole
	default:
		return fmt.Errorf("unknown role %q", s)
	}
	return nil
}
