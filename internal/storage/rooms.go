package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/woozymasta/gamemaster/internal/models"
)

const roomColumns = `id, server_id, app_version_id, settings, max_players_count, handle, created_at`

const playerColumns = `id, user_id, room_id, status, ip_address, payload`

func scanRoom(row scanner) (*models.Room, error) {
	var (
		room         models.Room
		settings     string
		appVersionID sql.NullInt64
	)

	err := row.Scan(&room.ID, &room.ServerID, &appVersionID, &settings,
		&room.MaxPlayersCount, &room.Handle, &room.CreatedAt)
	if err != nil {
		return nil, err
	}
	room.AppVersionID = appVersionID.Int64
	room.Settings = decodeSettings(settings)

	return &room, nil
}

func scanPlayer(row scanner) (*models.Player, error) {
	var (
		p       models.Player
		roomID  sql.NullInt64
		payload string
	)

	if err := row.Scan(&p.ID, &p.UserID, &roomID, &p.Status, &p.IPAddress, &payload); err != nil {
		return nil, err
	}
	p.RoomID = nullableID(roomID)
	p.Payload = decodeSettings(payload)

	return &p, nil
}

// CreateRoom persists a new room.
func (r *Repository) CreateRoom(ctx context.Context, room models.Room) (*models.Room, error) {
	settings, err := encodeSettings(room.Settings)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO rooms (server_id, app_version_id, settings, max_players_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING `+roomColumns,
		room.ServerID, optionalID(room.AppVersionID), settings, room.MaxPlayersCount, time.Now().UTC(),
	)

	return scanRoom(row)
}

// GetRoom returns a room by id.
func (r *Repository) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)

	room, err := scanRoom(row)
	if err != nil {
		return nil, notFound(err, "room", id)
	}

	return room, nil
}

// FindRooms returns rooms matching the filter, oldest first.
func (r *Repository) FindRooms(ctx context.Context, f models.RoomFilter) ([]models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE 1=1`
	var args []any

	if f.ServerID != 0 {
		query += ` AND server_id = ?`
		args = append(args, f.ServerID)
	}
	if f.AppVersionID != 0 {
		query += ` AND app_version_id = ?`
		args = append(args, f.AppVersionID)
	}
	if f.Spawned != nil {
		if *f.Spawned {
			query += ` AND handle != ''`
		} else {
			query += ` AND handle = ''`
		}
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}

	return rooms, rows.Err()
}

// GetEmptyRooms returns rooms without players created before the given time.
func (r *Repository) GetEmptyRooms(ctx context.Context, before time.Time) ([]models.Room, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE created_at < ? AND NOT EXISTS (SELECT 1 FROM players p WHERE p.room_id = rooms.id)
		ORDER BY id
	`, before.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}

	return rooms, rows.Err()
}

// SetRoomHandle stores the controller handle of a spawned room process.
func (r *Repository) SetRoomHandle(ctx context.Context, id int64, handle string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE rooms SET handle = ? WHERE id = ?`, handle, id)
	if err != nil {
		return err
	}

	return expectAffected(res, "room", id)
}

// DeleteRoom removes all players of the room and the room itself in one transaction.
// Parties placed into the room lose the reference.
func (r *Repository) DeleteRoom(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM players WHERE room_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE parties SET room_id = NULL WHERE room_id = ?`, id); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
		if err != nil {
			return err
		}

		return expectAffected(res, "room", id)
	})
}

// CreatePlayer persists a player that is not in any room yet.
func (r *Repository) CreatePlayer(ctx context.Context, p models.Player) (*models.Player, error) {
	payload, err := encodeSettings(p.Payload)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO players (user_id, status, ip_address, payload)
		VALUES (?, ?, ?, ?)
		RETURNING `+playerColumns,
		p.UserID, models.PlayerNew, p.IPAddress, payload,
	)

	return scanPlayer(row)
}

// DeletePlayer removes a player wherever it is.
func (r *Repository) DeletePlayer(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM players WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return expectAffected(res, "player", id)
}

// GetPlayer returns a player by id.
func (r *Repository) GetPlayer(ctx context.Context, id int64) (*models.Player, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)

	p, err := scanPlayer(row)
	if err != nil {
		return nil, notFound(err, "player", id)
	}

	return p, nil
}

// GetRoomPlayers returns the players currently in the room.
func (r *Repository) GetRoomPlayers(ctx context.Context, roomID int64) ([]models.Player, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+playerColumns+` FROM players WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}

	return players, rows.Err()
}

// CountRoomPlayers returns the number of players in the room.
func (r *Repository) CountRoomPlayers(ctx context.Context, roomID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players WHERE room_id = ?`, roomID).Scan(&n)

	return n, err
}

// AssignPlayer moves the player into the room only while the room is below its capacity.
// The count and the write happen in one statement, so concurrent joins cannot overfill the room.
// It reports false when the room is full.
func (r *Repository) AssignPlayer(ctx context.Context, roomID, playerID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE players SET room_id = ?, status = ?
		WHERE id = ?
		  AND (SELECT COUNT(*) FROM players WHERE room_id = ?) <
		      (SELECT max_players_count FROM rooms WHERE id = ?)
	`, roomID, models.PlayerJoined, playerID, roomID, roomID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// DeleteRoomPlayer removes a player that belongs to the room.
func (r *Repository) DeleteRoomPlayer(ctx context.Context, roomID, playerID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM players WHERE id = ? AND room_id = ?`, playerID, roomID)
	if err != nil {
		return err
	}

	return expectAffected(res, "player in room", playerID)
}
