package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/nearby/internal/domain"
)

var (
	_ domain.ProfileStore    = (*ProfileRepo)(nil)
	_ domain.NearbyFinder    = (*ProfileRepo)(nil)
	_ domain.InterestService = (*ProfileRepo)(nil)
	_ domain.ProfileEditor   = (*ProfileRepo)(nil)
)

const profileColumns = `id, display_name, bio, photo_url, interests, is_visible, visibility_expires_at, updated_at`

func scanProfile(row pgx.Row) (domain.Profile, error) {
	var p domain.Profile
	err := row.Scan(&p.ID, &p.DisplayName, &p.Bio, &p.PhotoRef, &p.Interests, &p.IsVisible, &p.VisibilityExpiresAt, &p.UpdatedAt)
	if p.Interests == nil {
		p.Interests = []string{}
	}
	return p, err
}

// ProfileRepo backs the profile store, the radius search and the match
// procedure with the profiles schema and its SQL functions.
type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

// EnsureProfile creates the profile row if it does not exist yet. An
// existing row keeps its display name.
func (r *ProfileRepo) EnsureProfile(ctx context.Context, userID uuid.UUID, displayName string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`,
		userID, displayName)
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

func (r *ProfileRepo) GetProfile(ctx context.Context, userID uuid.UUID) (domain.Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// UpdateProfile writes the editable fields and returns the stored row.
func (r *ProfileRepo) UpdateProfile(ctx context.Context, userID uuid.UUID, update domain.ProfileUpdate) (domain.Profile, error) {
	interests := update.Interests
	if interests == nil {
		interests = []string{}
	}
	p, err := scanProfile(r.pool.QueryRow(ctx, `
		UPDATE profiles
		SET display_name = $2, bio = $3, interests = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+profileColumns,
		userID, update.DisplayName, update.Bio, interests))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

func (r *ProfileRepo) UpdateLocation(ctx context.Context, userID uuid.UUID, sample domain.LocationSample) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles
		SET current_lat = $2, current_lng = $3, location_accuracy = $4, location_updated_at = $5, updated_at = now()
		WHERE id = $1`,
		userID, sample.Latitude, sample.Longitude, sample.AccuracyMeters, sample.CapturedAt)
	if err != nil {
		return fmt.Errorf("failed to update location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

func (r *ProfileRepo) SetVisibility(ctx context.Context, userID uuid.UUID, visible bool, expiresAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles
		SET is_visible = $2, visibility_expires_at = $3, updated_at = now()
		WHERE id = $1`,
		userID, visible, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set visibility: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

func (r *ProfileRepo) FindNearby(ctx context.Context, q domain.NearbyQuery) ([]domain.NearbyUser, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, bio, photo, interests, distance_meters, last_seen FROM find_nearby_users($1, $2, $3, $4)`,
		q.Latitude, q.Longitude, q.RadiusMeters, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearby users: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.NearbyUser, error) {
		var (
			u        domain.NearbyUser
			lastSeen *time.Time
		)
		if err := row.Scan(&u.ID, &u.DisplayName, &u.Bio, &u.PhotoRef, &u.Interests, &u.DistanceMeters, &lastSeen); err != nil {
			return u, err
		}
		if lastSeen != nil {
			u.LastSeenAt = *lastSeen
		}
		return u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan nearby users: %w", err)
	}
	return users, nil
}

func (r *ProfileRepo) HandleInterest(ctx context.Context, requesterID, targetID uuid.UUID) (string, string, error) {
	var kind, message string
	err := r.pool.QueryRow(ctx, `SELECT kind, message FROM handle_interest($1, $2)`, requesterID, targetID).
		Scan(&kind, &message)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", domain.ErrProfileNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to handle interest: %w", err)
	}
	return kind, message, nil
}
