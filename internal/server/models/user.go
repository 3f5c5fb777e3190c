package models

import (
	"strings"
	"time"
)

// User is an account in the credential store. PasswordHash is a bcrypt hash;
// the plaintext never leaves the login/change-password request handlers.
type User struct {
	ID           string
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Roles        []string
	IsActive     bool

	// Lockout bookkeeping. After too many failed logins the account is
	// locked until LockoutUntil.
	FailedLoginCount int
	LockoutUntil     *time.Time

	CreatedDate   time.Time
	LastLoginDate *time.Time
}

// FullName joins first and last name, tolerating either being empty.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// LockedOut reports whether the account is still inside a lockout window.
func (u *User) LockedOut(now time.Time) bool {
	return u.LockoutUntil != nil && now.Before(*u.LockoutUntil)
}

// RolesCSV returns the roles in the comma-joined form stored in the roles
// column.
func (u *User) RolesCSV() string { return strings.Join(u.Roles, ",") }

// ParseRolesCSV splits a stored roles column back into a slice.
func ParseRolesCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
