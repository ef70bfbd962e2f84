// Package users reads student and operator accounts.
// models.go describes the users row.
package users

import (
	"strings"

	"github.com/google/uuid"
)

// User is an account of the booking site.
type User struct {
	ID        uuid.UUID `db:"id"`
	Email     string    `db:"email"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	Role      string    `db:"role"` // student, teacher, admin
}

// DisplayName returns "First Last", or the email when no name is stored.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}
