package store

import (
	"context"
	"fmt"
	"time"

	"github.com/example/punch-scheduler/internal/crypto"
	"github.com/example/punch-scheduler/internal/db"
)

// PGStore is the postgres-backed implementation of Store.
type PGStore struct {
	db  *db.DB
	enc *crypto.AEAD
}

// OpenPostgres connects and runs migrations. aead, when non-nil, seals
// account cookies at rest exactly like the file store does.
func OpenPostgres(ctx context.Context, databaseURL string, aead *crypto.AEAD) (*PGStore, error) {
	d, err := db.Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := Migrate(ctx, d); err != nil {
		d.Close()
		return nil, err
	}
	return &PGStore{db: d, enc: aead}, nil
}

func (s *PGStore) Close() {
	s.db.Close()
}

func (s *PGStore) sealCookie(cookie string) (string, error) {
	if s.enc == nil {
		return cookie, nil
	}
	ct, err := s.enc.EncryptToString(cookie)
	if err != nil {
		return "", err
	}
	return encPrefix + ct, nil
}

func (s *PGStore) openCookie(stored string) (string, error) {
	if len(stored) > len(encPrefix) && stored[:len(encPrefix)] == encPrefix {
		if s.enc == nil {
			return "", fmt.Errorf("cookie is encrypted but no CRED_ENC_KEY is configured")
		}
		return s.enc.DecryptString(stored[len(encPrefix):])
	}
	return stored, nil
}

func (s *PGStore) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT name, cookie, course_id, pwd FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Name, &a.Cookie, &a.CourseID, &a.Password); err != nil {
			return nil, err
		}
		if a.Cookie, err = s.openCookie(a.Cookie); err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Name, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) Locations(ctx context.Context) ([]Location, error) {
	rows, err := s.db.Query(ctx, `SELECT name, lat, lng, acc FROM locations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		var lat, lng, acc float64
		if err := rows.Scan(&l.Name, &lat, &lng, &acc); err != nil {
			return nil, err
		}
		l.Lat, l.Lng, l.Acc = Coord(lat), Coord(lng), Coord(acc)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PGStore) TaskBindings(ctx context.Context) ([]TaskBinding, error) {
	rows, err := s.db.Query(ctx, `SELECT account_name, location_name, enabled FROM task_bindings ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskBinding
	for rows.Next() {
		var t TaskBinding
		if err := rows.Scan(&t.AccountName, &t.LocationName, &t.Enabled); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) Settings(ctx context.Context) (Settings, error) {
	var set Settings
	err := s.db.QueryRow(ctx, `
SELECT schedule_time, wecom_corpid, wecom_secret, wecom_agentid, wecom_touser, pushplus_token
FROM settings WHERE id=1`).
		Scan(&set.ScheduleTime, &set.WeCom.CorpID, &set.WeCom.Secret, &set.WeCom.AgentID, &set.WeCom.ToUser, &set.PushPlusToken)
	return set, db.WrapNotFound(err)
}

func (s *PGStore) SaveAccount(ctx context.Context, a Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	sealed, err := s.sealCookie(a.Cookie)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO accounts (name, cookie, course_id, pwd) VALUES ($1,$2,$3,$4)
ON CONFLICT (name) DO UPDATE SET cookie=$2, course_id=$3, pwd=$4, updated_at=$5`,
		a.Name, sealed, a.CourseID, a.Password, time.Now().UTC())
}

func (s *PGStore) DeleteAccount(ctx context.Context, name string) error {
	return s.deleteByName(ctx, `DELETE FROM accounts WHERE name=$1`, name)
}

func (s *PGStore) SaveLocation(ctx context.Context, l Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO locations (name, lat, lng, acc) VALUES ($1,$2,$3,$4)
ON CONFLICT (name) DO UPDATE SET lat=$2, lng=$3, acc=$4, updated_at=$5`,
		l.Name, float64(l.Lat), float64(l.Lng), float64(l.Acc), time.Now().UTC())
}

func (s *PGStore) DeleteLocation(ctx context.Context, name string) error {
	return s.deleteByName(ctx, `DELETE FROM locations WHERE name=$1`, name)
}

func (s *PGStore) SaveTaskBinding(ctx context.Context, t TaskBinding) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO task_bindings (account_name, location_name, enabled) VALUES ($1,$2,$3)
ON CONFLICT (account_name, location_name) DO UPDATE SET enabled=$3`,
		t.AccountName, t.LocationName, t.Enabled)
}

func (s *PGStore) SetTaskEnabled(ctx context.Context, accountName, locationName string, enabled bool) error {
	return s.execExpectingRow(ctx, `UPDATE task_bindings SET enabled=$3 WHERE account_name=$1 AND location_name=$2`,
		accountName, locationName, enabled)
}

func (s *PGStore) DeleteTaskBinding(ctx context.Context, accountName, locationName string) error {
	return s.execExpectingRow(ctx, `DELETE FROM task_bindings WHERE account_name=$1 AND location_name=$2`,
		accountName, locationName)
}

func (s *PGStore) SaveSettings(ctx context.Context, set Settings) error {
	return s.db.Exec(ctx, `
UPDATE settings
SET schedule_time=$1, wecom_corpid=$2, wecom_secret=$3, wecom_agentid=$4, wecom_touser=$5, pushplus_token=$6
WHERE id=1`,
		set.ScheduleTime, set.WeCom.CorpID, set.WeCom.Secret, set.WeCom.AgentID, set.WeCom.ToUser, set.PushPlusToken)
}

func (s *PGStore) User(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, `SELECT username, password_bcrypt FROM users WHERE username=$1`, username).
		Scan(&u.Username, &u.PasswordBcrypt)
	if err != nil {
		return User{}, db.WrapNotFound(err)
	}
	return u, nil
}

func (s *PGStore) SaveUser(ctx context.Context, u User) error {
	return s.db.Exec(ctx, `
INSERT INTO users (username, password_bcrypt) VALUES ($1,$2)
ON CONFLICT (username) DO UPDATE SET password_bcrypt=$2`,
		u.Username, u.PasswordBcrypt)
}

func (s *PGStore) deleteByName(ctx context.Context, sql, name string) error {
	return s.execExpectingRow(ctx, sql, name)
}

func (s *PGStore) execExpectingRow(ctx context.Context, sql string, args ...any) error {
	n, err := s.db.ExecAffected(ctx, sql, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
