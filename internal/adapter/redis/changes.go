package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/nearby/internal/domain"
)

// ChangesChannel carries JSON-encoded profile changes.
const ChangesChannel = "profiles:changes"

type changeMessage struct {
	ProfileID uuid.UUID `json:"profile_id"`
	IsVisible bool      `json:"is_visible"`
	At        time.Time `json:"at"`
}

func encodeChange(c domain.ProfileChange) (string, error) {
	b, err := json.Marshal(changeMessage{ProfileID: c.ProfileID, IsVisible: c.IsVisible, At: c.At})
	if err != nil {
		return "", fmt.Errorf("failed to encode profile change: %w", err)
	}
	return string(b), nil
}

func decodeChange(payload string) (domain.ProfileChange, error) {
	var m changeMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return domain.ProfileChange{}, fmt.Errorf("failed to decode profile change: %w", err)
	}
	if m.ProfileID == uuid.Nil {
		return domain.ProfileChange{}, errors.New("profile change without profile_id")
	}
	return domain.ProfileChange{ProfileID: m.ProfileID, IsVisible: m.IsVisible, At: m.At}, nil
}
