// Package ids generates and validates the UUIDv7 identifiers used for
// inference and episode IDs. UUIDv7 is mandatory rather than incidental: row
// ordering and timestamp derivation in the observability store depend on the
// id itself carrying a monotonic millisecond timestamp in its high bits.
package ids

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewInferenceID generates a fresh UUIDv7 stamped with the current time.
func NewInferenceID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("ids: generate uuidv7: %w", err)
	}
	return id, nil
}

// Timestamp extracts the millisecond timestamp embedded in a UUIDv7's first
// 48 bits.
func Timestamp(id uuid.UUID) time.Time {
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec)
}

// ValidateEpisodeID parses s as a UUIDv7 and rejects ids whose embedded
// timestamp is in the future relative to now. A caller-supplied episode_id
// with a future timestamp almost always indicates a forged or corrupted
// value, since legitimate ids are always generated at or before the request
// that carries them.
func ValidateEpisodeID(s string, now time.Time) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("ids: episode_id is not a valid uuid: %w", err)
	}
	if id.Version() != 7 {
		return uuid.UUID{}, fmt.Errorf("ids: episode_id must be a uuidv7, got version %d", id.Version())
	}
	sec, nsec := id.Time().UnixTime()
	ts := time.Unix(sec, nsec)
	if ts.After(now) {
		return uuid.UUID{}, fmt.Errorf("ids: episode_id timestamp %s is in the future (now=%s)", ts, now)
	}
	return id, nil
}
