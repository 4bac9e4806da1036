package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore backs the relay with a shared Postgres database. The rooms
// table carries a UNIQUE constraint on name, so duplicate creation is decided
// by the database, not by a check-then-create on our side.
type PostgresStore struct {
	db *sql.DB
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS rooms (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
    id         TEXT PRIMARY KEY,
    room_id    TEXT NOT NULL,
    username   TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
    id       TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at);`

func OpenPostgres(host, port, user, pass, database string) (*PostgresStore, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		user, pass, host, port, database,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetConnMaxIdleTime(time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(pgSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an already-open handle; used by tests.
func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) CreateRoom(ctx context.Context, name string) (*Room, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	room := Room{ID: NewID(), Name: name, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, created_at) VALUES ($1,$2,$3)`,
		room.ID, room.Name, room.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, ErrDuplicateRoom
		}
		return nil, err
	}
	return &room, nil
}

func (s *PostgresStore) Rooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM rooms ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RoomByName(ctx context.Context, name string) (*Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM rooms WHERE name = $1`, name,
	).Scan(&r.ID, &r.Name, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, roomID, username, content string) (*Message, error) {
	msg := Message{
		ID:        NewID(),
		RoomID:    roomID,
		Username:  username,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, username, content, created_at)
		      VALUES ($1,$2,$3,$4,$5)`,
		msg.ID, msg.RoomID, msg.Username, msg.Content, msg.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *PostgresStore) RoomMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, room_id, username, content, created_at
			   FROM messages WHERE room_id = $1 ORDER BY created_at ASC`, roomID)
		if err != nil {
			return nil, err
		}
		return scanMessages(rows)
	}
	// newest limit rows, flipped back to ascending
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, username, content, created_at
		   FROM messages WHERE room_id = $1
		  ORDER BY created_at DESC LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, err
	}
	out, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(out)
	return out, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, room_id, username, content, created_at
			   FROM messages ORDER BY created_at ASC`)
		if err != nil {
			return nil, err
		}
		return scanMessages(rows)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, username, content, created_at
		   FROM messages ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	out, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(out)
	return out, nil
}

func (s *PostgresStore) EnsureUser(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, ErrEmptyName
	}
	u := User{ID: NewID(), Username: username}
	// upsert keeps the original id for an existing username
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, username) VALUES ($1,$2)
		 ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		 RETURNING id, username`,
		u.ID, u.Username,
	).Scan(&u.ID, &u.Username)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Username, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
