// utils/utils.go

package utils

import (
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func GenerateUUIDString() string {
	id := uuid.New()
	return id.String()
}

// GenerateRoomCode returns n characters drawn uniformly from A-Z0-9.
// It panics if n is not positive.
func GenerateRoomCode(n int) string {
	return gonanoid.MustGenerate(roomCodeAlphabet, n)
}

// NormalizeRoomCode upper-cases a user-typed room code.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
