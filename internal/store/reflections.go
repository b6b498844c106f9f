package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const reflectionColumns = `id, owner_id, question, category, raw_content, modality, transcript,
	extracted_values, extracted_emotions, summary, word_count, created_at`

// CreateReflection stores a new, unprocessed reflection. ID, CreatedAt and
// WordCount are filled in when unset.
func (s *Store) CreateReflection(ctx context.Context, r *Reflection) error {
	if r.OwnerID == "" {
		return errors.New("reflection owner is required")
	}
	if r.Modality == "" {
		r.Modality = ModalityText
	}
	if !r.Modality.Valid() {
		return fmt.Errorf("unknown modality %q", r.Modality)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	if r.WordCount == 0 {
		r.WordCount = len(strings.Fields(r.BestText()))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reflections (id, owner_id, question, category, raw_content, modality, transcript, word_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.Question, r.Category, r.RawContent, string(r.Modality),
		nullable(r.Transcript), r.WordCount, toUnix(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert reflection: %w", err)
	}
	return nil
}

func (s *Store) GetReflection(ctx context.Context, id string) (*Reflection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reflectionColumns+` FROM reflections WHERE id = ?`, id)
	r, err := scanReflection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SaveEssence writes the extraction result in a single statement. It returns
// false when the reflection was already processed, leaving it untouched.
func (s *Store) SaveEssence(ctx context.Context, id string, e Essence) (bool, error) {
	if e.Summary == "" {
		return false, errors.New("essence summary is required")
	}
	values, err := encodeList(e.Values)
	if err != nil {
		return false, err
	}
	emotions, err := encodeList(e.Emotions)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE reflections
		SET extracted_values = ?, extracted_emotions = ?, summary = ?,
		    transcript = COALESCE(transcript, ?)
		WHERE id = ? AND summary IS NULL`,
		values, emotions, e.Summary, nullable(e.Transcript), id,
	)
	if err != nil {
		return false, fmt.Errorf("save essence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) CountProcessed(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reflections WHERE owner_id = ? AND summary IS NOT NULL`, ownerID,
	).Scan(&n)
	return n, err
}

// ListReflections returns every reflection of the owner in creation order.
func (s *Store) ListReflections(ctx context.Context, ownerID string) ([]Reflection, error) {
	return s.queryReflections(ctx, `SELECT `+reflectionColumns+` FROM reflections
		WHERE owner_id = ? ORDER BY created_at ASC, rowid ASC`, ownerID)
}

// ListProcessed returns the owner's processed reflections in creation order.
func (s *Store) ListProcessed(ctx context.Context, ownerID string) ([]Reflection, error) {
	return s.queryReflections(ctx, `SELECT `+reflectionColumns+` FROM reflections
		WHERE owner_id = ? AND summary IS NOT NULL ORDER BY created_at ASC, rowid ASC`, ownerID)
}

// extractable matches rows that have something to extract from: text, a
// transcript, or raw content of at least minRawLength characters.
const extractable = `(modality = 'text' OR COALESCE(transcript, '') <> ''
	OR length(trim(raw_content, ' ' || char(9, 10, 13))) >= ?)`

// ListUnprocessedBefore returns reflections created before cutoff that still
// await extraction and can be extracted now, oldest first. Media rows waiting
// for a transcript are left out so they cannot fill the batch.
func (s *Store) ListUnprocessedBefore(ctx context.Context, cutoff time.Time, minRawLength, limit int) ([]Reflection, error) {
	return s.queryReflections(ctx, `SELECT `+reflectionColumns+` FROM reflections
		WHERE summary IS NULL AND created_at < ? AND `+extractable+`
		ORDER BY created_at ASC, rowid ASC LIMIT ?`, toUnix(cutoff), minRawLength, limit)
}

// CountAwaitingTranscript counts unprocessed reflections created before
// cutoff that cannot be extracted until a transcript arrives.
func (s *Store) CountAwaitingTranscript(ctx context.Context, cutoff time.Time, minRawLength int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reflections
		WHERE summary IS NULL AND created_at < ? AND NOT `+extractable,
		toUnix(cutoff), minRawLength,
	).Scan(&n)
	return n, err
}

// OwnersWithoutPersonality lists owners that have processed reflections but no
// personality model yet.
func (s *Store) OwnersWithoutPersonality(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT r.owner_id FROM reflections r
		LEFT JOIN personality_models p ON p.owner_id = r.owner_id
		WHERE r.summary IS NOT NULL AND p.owner_id IS NULL
		ORDER BY r.owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

func (s *Store) queryReflections(ctx context.Context, query string, args ...any) ([]Reflection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reflection
	for rows.Next() {
		r, err := scanReflection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReflection(row scanner) (*Reflection, error) {
	var (
		r                   Reflection
		modality            string
		transcript, summary sql.NullString
		values, emotions    sql.NullString
		createdAt           int64
	)
	err := row.Scan(&r.ID, &r.OwnerID, &r.Question, &r.Category, &r.RawContent, &modality,
		&transcript, &values, &emotions, &summary, &r.WordCount, &createdAt)
	if err != nil {
		return nil, err
	}
	r.Modality = Modality(modality)
	r.Transcript = transcript.String
	r.Summary = summary.String
	r.Values = decodeList(values)
	r.Emotions = decodeList(emotions)
	r.CreatedAt = fromUnix(createdAt)
	return &r, nil
}
