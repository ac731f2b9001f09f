// Package models declares the bun models whose tables Database.CreateDB
// manages.  Add a model here and append it to All.
package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User is the account table every generated service starts with.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64     `bun:"id,pk,autoincrement"`
	Email        string    `bun:"email,notnull,unique"`
	PasswordHash string    `bun:"password_hash,notnull"`
	Active       bool      `bun:"active,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// NewUser returns an active account.  Active has no column default, so a
// zero User is stored inactive.
func NewUser(email, passwordHash string) *User {
	return &User{Email: email, PasswordHash: passwordHash, Active: true}
}

// All returns one nil pointer per model, in creation order.
func All() []any {
	return []any{
		(*User)(nil),
	}
}
