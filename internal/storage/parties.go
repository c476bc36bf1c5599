package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/woozymasta/gamemaster/internal/models"
)

const partyColumns = `id, max_members_count, status, settings, room_id, start_claim IS NOT NULL, created_at`

const sessionColumns = `id, party_id, user_id, role, settings, app_version_id, ip_address, created_at`

func scanParty(row scanner) (*models.Party, error) {
	var (
		p        models.Party
		settings string
		roomID   sql.NullInt64
	)

	if err := row.Scan(&p.ID, &p.MaxMembersCount, &p.Status, &settings, &roomID, &p.Placing, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Settings = decodeSettings(settings)
	p.RoomID = nullableID(roomID)

	return &p, nil
}

func scanSession(row scanner) (*models.PartySession, error) {
	var (
		s            models.PartySession
		settings     string
		appVersionID sql.NullInt64
	)

	err := row.Scan(&s.ID, &s.PartyID, &s.UserID, &s.Role, &settings, &appVersionID, &s.IPAddress, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.AppVersionID = appVersionID.Int64
	s.Settings = decodeSettings(settings)

	return &s, nil
}

// CreateParty persists a new party in the created status.
func (r *Repository) CreateParty(ctx context.Context, p models.Party) (*models.Party, error) {
	settings, err := encodeSettings(p.Settings)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO parties (max_members_count, status, settings, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING `+partyColumns,
		p.MaxMembersCount, models.PartyCreated, settings, time.Now().UTC(),
	)

	return scanParty(row)
}

// GetParty returns a party by id.
func (r *Repository) GetParty(ctx context.Context, id int64) (*models.Party, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = ?`, id)

	p, err := scanParty(row)
	if err != nil {
		return nil, notFound(err, "party", id)
	}

	return p, nil
}

// ClaimPartyStart reserves a created party for placement under token.
// A claim taken before staleBefore is abandoned and may be taken over.
// It reports false when the party is not created or another placement holds it.
func (r *Repository) ClaimPartyStart(ctx context.Context, id int64, token string, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE parties SET start_claim = ?, claimed_at = ?
		WHERE id = ? AND status = ?
		  AND (start_claim IS NULL OR claimed_at < ?)
	`, token, time.Now().UTC(), id, models.PartyCreated, staleBefore.UTC())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// ReleasePartyStart drops the claim, the party stays created.
func (r *Repository) ReleasePartyStart(ctx context.Context, id int64, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE parties SET start_claim = NULL, claimed_at = NULL
		WHERE id = ? AND start_claim = ?
	`, id, token)

	return err
}

// CompletePartyStart moves a claimed party through starting to started and stores its room.
// Both writes share one transaction. It reports false when the claim was lost.
func (r *Repository) CompletePartyStart(ctx context.Context, id int64, token string, roomID int64) (bool, error) {
	var held bool

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE parties SET status = ?
			WHERE id = ? AND status = ? AND start_claim = ?
		`, models.PartyStarting, id, models.PartyCreated, token)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		held = true

		_, err = tx.ExecContext(ctx, `
			UPDATE parties SET status = ?, room_id = ?, start_claim = NULL, claimed_at = NULL
			WHERE id = ? AND status = ?
		`, models.PartyStarted, roomID, id, models.PartyStarting)

		return err
	})

	return held, err
}

// DeleteParty removes the party and all of its sessions in one transaction.
func (r *Repository) DeleteParty(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM party_sessions WHERE party_id = ?`, id); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM parties WHERE id = ?`, id)
		if err != nil {
			return err
		}

		return expectAffected(res, "party", id)
	})
}

// CountPartySessions returns the number of members of the party.
func (r *Repository) CountPartySessions(ctx context.Context, partyID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM party_sessions WHERE party_id = ?`, partyID).Scan(&n)

	return n, err
}

// InsertSession adds a session to a created party that no start holds, only while the party
// is below its member limit. It returns nil without error when nothing was inserted.
func (r *Repository) InsertSession(ctx context.Context, s models.PartySession) (*models.PartySession, error) {
	settings, err := encodeSettings(s.Settings)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO party_sessions (party_id, user_id, role, settings, app_version_id, ip_address, created_at)
		SELECT p.id, ?, ?, ?, ?, ?, ?
		FROM parties p
		WHERE p.id = ? AND p.status = ? AND p.start_claim IS NULL
		  AND (SELECT COUNT(*) FROM party_sessions WHERE party_id = p.id) < p.max_members_count
		RETURNING `+sessionColumns,
		s.UserID, s.Role, settings, optionalID(s.AppVersionID), s.IPAddress, time.Now().UTC(),
		s.PartyID, models.PartyCreated,
	)

	created, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	return created, err
}

// GetSession returns a party session by id.
func (r *Repository) GetSession(ctx context.Context, id int64) (*models.PartySession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM party_sessions WHERE id = ?`, id)

	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "party session", id)
	}

	return s, nil
}

// GetPartySessions returns the members of the party in join order.
func (r *Repository) GetPartySessions(ctx context.Context, partyID int64) ([]models.PartySession, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM party_sessions WHERE party_id = ? ORDER BY id`, partyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []models.PartySession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}

	return sessions, rows.Err()
}

// DeleteSession removes a single party session.
func (r *Repository) DeleteSession(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM party_sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return expectAffected(res, "party session", id)
}
