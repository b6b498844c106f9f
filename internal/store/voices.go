package store

import (
	"context"
	"database/sql"
	"errors"
)

// PrimaryVoice returns the owner's primary voice profile or ErrNotFound.
func (s *Store) PrimaryVoice(ctx context.Context, ownerID string) (*VoiceProfile, error) {
	var v VoiceProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, external_voice_ref FROM voice_profiles
		WHERE owner_id = ? AND is_primary = 1 LIMIT 1`, ownerID,
	).Scan(&v.OwnerID, &v.ExternalVoiceRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.IsPrimary = true
	return &v, nil
}

// PutVoiceProfile registers a voice. A primary voice demotes any other
// primary of the same owner.
func (s *Store) PutVoiceProfile(ctx context.Context, v VoiceProfile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if v.IsPrimary {
		if _, err := tx.ExecContext(ctx, `UPDATE voice_profiles SET is_primary = 0 WHERE owner_id = ?`, v.OwnerID); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO voice_profiles (owner_id, external_voice_ref, is_primary) VALUES (?, ?, ?)
		ON CONFLICT(owner_id, external_voice_ref) DO UPDATE SET is_primary = excluded.is_primary`,
		v.OwnerID, v.ExternalVoiceRef, v.IsPrimary)
	if err != nil {
		return err
	}
	return tx.Commit()
}
