package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"bianzi/internal/model"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(filePath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filePath)
	if err != nil {
		return nil, err
	}
	st := &SQLiteStore{db: db}
	if err := st.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveBank(bank model.WordBank) error {
	items, err := json.Marshal(bank.Items)
	if err != nil {
		return err
	}
	hints, err := json.Marshal(bank.DistractorHints)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO banks
		(grade, items, hints, source, generated_at)
		VALUES (?, ?, ?, ?, ?)`,
		bank.Grade,
		string(items),
		string(hints),
		bank.Source,
		nullableTS(bank.GeneratedAt),
	)
	return err
}

func (s *SQLiteStore) GetBank(grade int) (model.WordBank, bool, error) {
	row := s.db.QueryRow(`
		SELECT grade, items, hints, source, generated_at
		FROM banks
		WHERE grade = ?`,
		grade,
	)
	var bank model.WordBank
	var items string
	var hints string
	var generatedAt sql.NullString
	err := row.Scan(&bank.Grade, &items, &hints, &bank.Source, &generatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WordBank{}, false, nil
	}
	if err != nil {
		return model.WordBank{}, false, err
	}
	if err := json.Unmarshal([]byte(items), &bank.Items); err != nil {
		return model.WordBank{}, false, err
	}
	if err := json.Unmarshal([]byte(hints), &bank.DistractorHints); err != nil {
		return model.WordBank{}, false, err
	}
	if generatedAt.Valid && generatedAt.String != "" {
		bank.GeneratedAt = fromTS(generatedAt.String)
	}
	return bank, true, nil
}

func (s *SQLiteStore) DeleteBank(grade int) error {
	_, err := s.db.Exec(`DELETE FROM banks WHERE grade = ?`, grade)
	return err
}

func (s *SQLiteStore) SetPreference(key string, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO preferences (key, value) VALUES (?, ?)`,
		key,
		value,
	)
	return err
}

func (s *SQLiteStore) GetPreference(key string) (string, bool, error) {
	row := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key)
	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) PutImage(image model.ImageBlob) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO images
		(word, mime, data, created_at)
		VALUES (?, ?, ?, ?)`,
		image.Word,
		image.MIME,
		image.Data,
		toTS(image.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) GetImage(word string) (model.ImageBlob, bool, error) {
	row := s.db.QueryRow(`
		SELECT word, mime, data, created_at
		FROM images
		WHERE word = ?`,
		word,
	)
	var image model.ImageBlob
	var createdAt string
	err := row.Scan(&image.Word, &image.MIME, &image.Data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ImageBlob{}, false, nil
	}
	if err != nil {
		return model.ImageBlob{}, false, err
	}
	image.CreatedAt = fromTS(createdAt)
	return image, true, nil
}

func (s *SQLiteStore) SaveSession(session model.GameSession) error {
	options, err := json.Marshal(session.Options)
	if err != nil {
		return err
	}
	tried, err := json.Marshal(session.Tried)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions
		(id, grade, screen, level, options, tried, stars, image_word, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Grade,
		session.Screen,
		session.Level,
		string(options),
		string(tried),
		session.Stars,
		session.ImageWord,
		toTS(session.CreatedAt),
		toTS(session.UpdatedAt),
	)
	return err
}

func (s *SQLiteStore) GetSession(id string) (model.GameSession, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, grade, screen, level, options, tried, stars, image_word, created_at, updated_at
		FROM sessions
		WHERE id = ?`,
		id,
	)

	var session model.GameSession
	var options string
	var tried string
	var createdAt string
	var updatedAt string
	err := row.Scan(
		&session.ID,
		&session.Grade,
		&session.Screen,
		&session.Level,
		&options,
		&tried,
		&session.Stars,
		&session.ImageWord,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GameSession{}, false, nil
	}
	if err != nil {
		return model.GameSession{}, false, err
	}
	if err := json.Unmarshal([]byte(options), &session.Options); err != nil {
		return model.GameSession{}, false, err
	}
	if err := json.Unmarshal([]byte(tried), &session.Tried); err != nil {
		return model.GameSession{}, false, err
	}
	session.CreatedAt = fromTS(createdAt)
	session.UpdatedAt = fromTS(updatedAt)
	return session, true, nil
}

func (s *SQLiteStore) UpdateSession(session model.GameSession) error {
	options, err := json.Marshal(session.Options)
	if err != nil {
		return err
	}
	tried, err := json.Marshal(session.Tried)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(`
		UPDATE sessions
		SET grade = ?, screen = ?, level = ?, options = ?, tried = ?, stars = ?, image_word = ?, created_at = ?, updated_at = ?
		WHERE id = ?`,
		session.Grade,
		session.Screen,
		session.Level,
		string(options),
		string(tried),
		session.Stars,
		session.ImageWord,
		toTS(session.CreatedAt),
		toTS(session.UpdatedAt),
		session.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.New("session not found")
	}
	return nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		PRAGMA journal_mode=WAL;
		CREATE TABLE IF NOT EXISTS banks (
			grade INTEGER PRIMARY KEY,
			items TEXT NOT NULL,
			hints TEXT NOT NULL,
			source TEXT NOT NULL,
			generated_at TEXT
		);
		CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS images (
			word TEXT PRIMARY KEY,
			mime TEXT NOT NULL,
			data BLOB NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			grade INTEGER NOT NULL,
			screen TEXT NOT NULL,
			level INTEGER NOT NULL,
			options TEXT NOT NULL,
			tried TEXT NOT NULL,
			stars INTEGER NOT NULL,
			image_word TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	return err
}

func toTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return toTS(t)
}

func fromTS(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
