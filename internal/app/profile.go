package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pscheid92/nearby/internal/domain"
)

// Profiles reads and edits the signed-in user's own profile.
type Profiles struct {
	editor domain.ProfileEditor
	userID uuid.UUID
}

func NewProfiles(editor domain.ProfileEditor, userID uuid.UUID) *Profiles {
	return &Profiles{editor: editor, userID: userID}
}

func (p *Profiles) Get(ctx context.Context) (domain.Profile, error) {
	profile, err := p.editor.GetProfile(ctx, p.userID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return profile, nil
}

// Update normalises the edit before it is stored. Visibility and location
// are not touched.
func (p *Profiles) Update(ctx context.Context, update domain.ProfileUpdate) (domain.Profile, error) {
	normalized, err := update.Normalize()
	if err != nil {
		return domain.Profile{}, err
	}

	profile, err := p.editor.UpdateProfile(ctx, p.userID, normalized)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("%w: update profile: %w", domain.ErrRemoteWriteFailed, err)
	}

	slog.InfoContext(ctx, "Profile updated", "user_id", p.userID, "interests", len(profile.Interests))
	return profile, nil
}
