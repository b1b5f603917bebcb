package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const machineTokenPrefix = "oli_"

// GenerateMachineToken creates a new machine token and its ID.
// Format: oli_<uuid>_<random_secret>
func GenerateMachineToken() (string, uuid.UUID, error) {
	id := uuid.New()

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", uuid.Nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	token := fmt.Sprintf("%s%s_%s", machineTokenPrefix, id.String(), hex.EncodeToString(secretBytes))
	return token, id, nil
}

// MachineTokenID extracts the ID of a well-formed machine token.
func MachineTokenID(token string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(token, machineTokenPrefix)
	if !ok {
		return uuid.Nil, false
	}

	idPart, secret, ok := strings.Cut(rest, "_")
	if !ok || len(secret) != 64 {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
