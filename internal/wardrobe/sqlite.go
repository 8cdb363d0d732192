package wardrobe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const wardrobeSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	sex TEXT NOT NULL DEFAULT '',
	character_model TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS clothes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	style TEXT NOT NULL DEFAULT '',
	season TEXT NOT NULL DEFAULT '',
	material TEXT NOT NULL DEFAULT '',
	favorite INTEGER NOT NULL DEFAULT 0,
	image TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_clothes_user_id ON clothes(user_id);
`

// OpenSQLite opens/creates the database at dbPath and ensures the schema exists.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./wardrobe.db"
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(wardrobeSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertUser creates or replaces a user profile.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, sex, character_model) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, sex = excluded.sex, character_model = excluded.character_model`,
		u.ID, u.Name, u.Sex, u.CharacterModel,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// AddCloth inserts c and returns its new id.
func (s *SQLiteStore) AddCloth(ctx context.Context, c Cloth) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO clothes (user_id, name, type, color, style, season, material, favorite, image)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Name, c.Type, c.Color, c.Style, c.Season, c.Material, c.Favorite, c.Image,
	)
	if err != nil {
		return 0, fmt.Errorf("insert cloth: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, sex, character_model FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.Name, &u.Sex, &u.CharacterModel)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) SetUserSex(ctx context.Context, userID, sex string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET sex = ? WHERE id = ?`, sex, userID)
	if err != nil {
		return fmt.Errorf("update user sex: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) ListClothes(ctx context.Context, userID string, f ClothFilter) ([]Cloth, error) {
	query := `SELECT id, user_id, name, type, color, style, season, material, favorite, image
		FROM clothes WHERE user_id = ?`
	args := []any{userID}
	for _, cond := range []struct{ col, val string }{
		{"type", f.Type}, {"color", f.Color}, {"style", f.Style}, {"season", f.Season},
	} {
		if strings.TrimSpace(cond.val) == "" {
			continue
		}
		query += " AND " + cond.col + " LIKE ?"
		args = append(args, "%"+cond.val+"%")
	}
	if f.Favorite != nil {
		query += " AND favorite = ?"
		args = append(args, *f.Favorite)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select clothes: %w", err)
	}
	defer rows.Close()

	var out []Cloth
	for rows.Next() {
		c, err := scanCloth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetCloth(ctx context.Context, clothID int64) (Cloth, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, type, color, style, season, material, favorite, image
		 FROM clothes WHERE id = ?`, clothID)
	c, err := scanCloth(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Cloth{}, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) UpdateCloth(ctx context.Context, clothID int64, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	var (
		sets []string
		args []any
	)
	// Iterate the whitelist so column names never come from the caller.
	for _, col := range EditableFields {
		v, ok := fields[col]
		if !ok {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, clothID)
	res, err := s.db.ExecContext(ctx, `UPDATE clothes SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update cloth: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) SetFavorite(ctx context.Context, clothID int64, favorite bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clothes SET favorite = ? WHERE id = ?`, favorite, clothID)
	if err != nil {
		return fmt.Errorf("update favorite: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) DeleteCloth(ctx context.Context, clothID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clothes WHERE id = ?`, clothID)
	if err != nil {
		return fmt.Errorf("delete cloth: %w", err)
	}
	return requireAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCloth(r rowScanner) (Cloth, error) {
	var c Cloth
	err := r.Scan(&c.ID, &c.UserID, &c.Name, &c.Type, &c.Color, &c.Style, &c.Season, &c.Material, &c.Favorite, &c.Image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cloth{}, err
		}
		return Cloth{}, fmt.Errorf("scan cloth: %w", err)
	}
	return c, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
