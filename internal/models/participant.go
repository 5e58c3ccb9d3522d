// internal/models/participant.go
package models

// Participant is the read-only profile snapshot of an authenticated user.
// Email is the identity key.
type Participant struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
	Hall       string `json:"hall"`
	Year       string `json:"year"`
	Department string `json:"department"`
}

// PublicProfile is the part of a Participant that is shown to an opponent.
type PublicProfile struct {
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
	Hall       string `json:"hall"`
	Year       string `json:"year"`
	Department string `json:"department"`
}

func (p Participant) Public() PublicProfile {
	return PublicProfile{
		Name:       p.Name,
		Avatar:     p.Avatar,
		Hall:       p.Hall,
		Year:       p.Year,
		Department: p.Department,
	}
}

// SameIdentity reports whether both snapshots belong to the same user.
func (p Participant) SameIdentity(o Participant) bool {
	return p.Email != "" && p.Email == o.Email
}
