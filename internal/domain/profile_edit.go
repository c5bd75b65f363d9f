package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxDisplayNameLen = 80
	maxBioLen         = 500
	maxInterests      = 20
	maxInterestLen    = 40
)

// Profile is the user's own row as the discovery surface shows it, including
// the stored visibility flag.
type Profile struct {
	ID                  uuid.UUID  `json:"id"`
	DisplayName         string     `json:"displayName"`
	Bio                 string     `json:"bio"`
	PhotoRef            string     `json:"photoRef"`
	Interests           []string   `json:"interests"`
	IsVisible           bool       `json:"isVisible"`
	VisibilityExpiresAt *time.Time `json:"visibilityExpiresAt,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// VisibleAt reports whether the stored flag still makes the profile
// discoverable at now.
func (p Profile) VisibleAt(now time.Time) bool {
	if !p.IsVisible {
		return false
	}
	return p.VisibilityExpiresAt == nil || p.VisibilityExpiresAt.After(now)
}

// ProfileUpdate holds the user-editable fields.
type ProfileUpdate struct {
	DisplayName string   `json:"displayName"`
	Bio         string   `json:"bio"`
	Interests   []string `json:"interests"`
}

// Normalize trims every field, drops blank and repeated interests keeping
// the first occurrence, and rejects what does not fit.
func (u ProfileUpdate) Normalize() (ProfileUpdate, error) {
	out := ProfileUpdate{
		DisplayName: strings.TrimSpace(u.DisplayName),
		Bio:         strings.TrimSpace(u.Bio),
		Interests:   []string{},
	}
	if out.DisplayName == "" {
		return ProfileUpdate{}, fmt.Errorf("%w: display name is required", ErrInvalidProfile)
	}
	if utf8.RuneCountInString(out.DisplayName) > maxDisplayNameLen {
		return ProfileUpdate{}, fmt.Errorf("%w: display name exceeds %d characters", ErrInvalidProfile, maxDisplayNameLen)
	}
	if utf8.RuneCountInString(out.Bio) > maxBioLen {
		return ProfileUpdate{}, fmt.Errorf("%w: bio exceeds %d characters", ErrInvalidProfile, maxBioLen)
	}

	seen := make(map[string]struct{}, len(u.Interests))
	for _, raw := range u.Interests {
		interest := strings.TrimSpace(raw)
		if interest == "" {
			continue
		}
		if _, dup := seen[interest]; dup {
			continue
		}
		if utf8.RuneCountInString(interest) > maxInterestLen {
			return ProfileUpdate{}, fmt.Errorf("%w: interest %q exceeds %d characters", ErrInvalidProfile, interest, maxInterestLen)
		}
		seen[interest] = struct{}{}
		out.Interests = append(out.Interests, interest)
	}
	if len(out.Interests) > maxInterests {
		return ProfileUpdate{}, fmt.Errorf("%w: at most %d interests", ErrInvalidProfile, maxInterests)
	}
	return out, nil
}

// ProfileEditor reads and edits the user's own profile.
type ProfileEditor interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (Profile, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (Profile, error)
}
