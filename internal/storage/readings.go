package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenLockIn/internal/types"
	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// ClampLimit maps a requested history size onto [1, MaxHistoryLimit].
// Non-positive requests get DefaultHistoryLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// SaveReading archives one successful attribute read.
func (p *PostgresClient) SaveReading(ctx context.Context, v types.AttributeValue) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO attribute_readings (id, device_name, attribute, value, read_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), strings.ToLower(v.Device), v.Attribute, v.Value, time.UnixMilli(v.Timestamp).UTC())

	if err != nil {
		return fmt.Errorf("failed to save reading: %w", err)
	}
	return nil
}

// RecentReadings returns the newest readings of one attribute, newest first.
func (p *PostgresClient) RecentReadings(ctx context.Context, deviceName, attribute string, limit int) ([]Reading, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, device_name, attribute, value, read_at
		FROM attribute_readings
		WHERE device_name = $1 AND lower(attribute) = lower($2)
		ORDER BY read_at DESC
		LIMIT $3
	`, strings.ToLower(deviceName), attribute, ClampLimit(limit))

	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := make([]Reading, 0)
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.ID, &r.Device, &r.Attribute, &r.Value, &r.ReadAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}

	return readings, nil
}
