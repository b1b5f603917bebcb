package storage

import (
	"time"

	"github.com/google/uuid"
)

// Reading is one archived attribute value.
type Reading struct {
	ID        uuid.UUID `json:"id"`
	Device    string    `json:"device"`
	Attribute string    `json:"attribute"`
	Value     float64   `json:"value"`
	ReadAt    time.Time `json:"read_at"`
}
