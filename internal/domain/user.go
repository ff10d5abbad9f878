// Package domain contains entity without logic, just meta-data
package domain

import (
	"fmt"
	"math/rand/v2"
)

const (
	MaxUsernameLen = 36
	MaxSlugLen     = 64
)

type UserID string

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

// RandomDisplayName produces the anonymous label a client gets when it
// enters a room without picking a name, e.g. "Solver#4821".
func RandomDisplayName() string {
	return fmt.Sprintf("Solver#%d", 1000+rand.IntN(9000))
}
