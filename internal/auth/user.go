package auth

import (
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type TdbUserRole int

const (
	TdbUserRoleAdmin TdbUserRole = iota
	TdbUserRoleReadWrite
	TdbUserRoleReadOnly
)

func (r TdbUserRole) String() string {
	switch r {
	case TdbUserRoleAdmin:
		return "admin"
	case TdbUserRoleReadWrite:
		return "read-write"
	case TdbUserRoleReadOnly:
		return "read-only"
	}
	return "unknown"
}

var (
	InsufficientPermissions = errors.New("Insufficient permissions")
	InvalidCredentials      = errors.New("Invalid auth")
)

type TdbUser struct {
	Id       string
	Name     string
	Password []byte
	Role     TdbUserRole
}

func NewUser(name, password string, role TdbUserRole) (*TdbUser, error) {
	// password max size is 72 bytes because of bcrypt limit
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &TdbUser{uuid.New().String(), name, hashedPassword, role}, nil
}

func (u *TdbUser) ValidateUser(password string) bool {
	return bcrypt.CompareHashAndPassword(u.Password, []byte(password)) == nil
}

// HasClearance reports whether u may run actions that need role r. A nil
// user belongs to a server without auth and may do anything.
func (u *TdbUser) HasClearance(r TdbUserRole) bool { return u == nil || u.Role <= r }

// Users is the set of accounts a server accepts, keyed by name.
type Users map[string]*TdbUser

func (users Users) Add(u *TdbUser) { users[u.Name] = u }

// Validate returns the user matching the credentials.
func (users Users) Validate(name, password string) (*TdbUser, error) {
	u, ok := users[name]
	if !ok || !u.ValidateUser(password) {
		return nil, InvalidCredentials
	}
	return u, nil
}
