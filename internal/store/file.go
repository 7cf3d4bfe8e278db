package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/example/punch-scheduler/internal/crypto"
)

// schemaVersion is the current on-disk layout. Version 0 (no version field)
// is the historical flat layout and is migrated on first load.
const schemaVersion = 2

const encPrefix = "enc:"

type document struct {
	Version       int           `json:"version"`
	Accounts      []Account     `json:"accounts"`
	Locations     []Location    `json:"locations"`
	Tasks         []TaskBinding `json:"tasks"`
	ScheduleTime  string        `json:"scheduletime"`
	WeCom         WeCom         `json:"wecom"`
	PushPlusToken string        `json:"pushplus"`
	Users         []User        `json:"users,omitempty"`
}

// FileStore keeps the whole document in memory and rewrites the file on
// every mutation. Single-process use only; the mutex guards the admin API
// mutating while a pass reads.
type FileStore struct {
	path string
	enc  *crypto.AEAD

	mu  sync.Mutex
	doc document
}

// OpenFile loads (or creates) the JSON store at path. When aead is non-nil,
// account cookies are sealed with AES-GCM before they touch disk.
func OpenFile(path string, aead *crypto.AEAD) (*FileStore, error) {
	s := &FileStore{path: path, enc: aead}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.doc = document{Version: schemaVersion}
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	switch probe.Version {
	case schemaVersion:
		if err := json.Unmarshal(raw, &s.doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case 0:
		doc, err := MigrateLegacy(raw)
		if err != nil {
			return nil, fmt.Errorf("migrate %s: %w", path, err)
		}
		s.doc = doc
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: unsupported schema version %d", path, probe.Version)
	}
	return s, nil
}

func (s *FileStore) Close() {}

func (s *FileStore) persistLocked() error {
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *FileStore) sealCookie(cookie string) (string, error) {
	if s.enc == nil {
		return cookie, nil
	}
	ct, err := s.enc.EncryptToString(cookie)
	if err != nil {
		return "", err
	}
	return encPrefix + ct, nil
}

func (s *FileStore) openCookie(stored string) (string, error) {
	if len(stored) > len(encPrefix) && stored[:len(encPrefix)] == encPrefix {
		if s.enc == nil {
			return "", fmt.Errorf("cookie is encrypted but no CRED_ENC_KEY is configured")
		}
		return s.enc.DecryptString(stored[len(encPrefix):])
	}
	return stored, nil
}

func (s *FileStore) Accounts(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, 0, len(s.doc.Accounts))
	for _, a := range s.doc.Accounts {
		cookie, err := s.openCookie(a.Cookie)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Name, err)
		}
		a.Cookie = cookie
		out = append(out, a)
	}
	return out, nil
}

func (s *FileStore) Locations(ctx context.Context) ([]Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Location(nil), s.doc.Locations...), nil
}

func (s *FileStore) TaskBindings(ctx context.Context) ([]TaskBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TaskBinding(nil), s.doc.Tasks...), nil
}

func (s *FileStore) Settings(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Settings{
		ScheduleTime:  s.doc.ScheduleTime,
		WeCom:         s.doc.WeCom,
		PushPlusToken: s.doc.PushPlusToken,
	}, nil
}

func (s *FileStore) SaveAccount(ctx context.Context, a Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	sealed, err := s.sealCookie(a.Cookie)
	if err != nil {
		return err
	}
	a.Cookie = sealed

	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i := range s.doc.Accounts {
		if s.doc.Accounts[i].Name == a.Name {
			s.doc.Accounts[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		s.doc.Accounts = append(s.doc.Accounts, a)
	}
	return s.persistLocked()
}

func (s *FileStore) DeleteAccount(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Accounts {
		if s.doc.Accounts[i].Name == name {
			s.doc.Accounts = append(s.doc.Accounts[:i], s.doc.Accounts[i+1:]...)
			return s.persistLocked()
		}
	}
	return ErrNotFound
}

func (s *FileStore) SaveLocation(ctx context.Context, l Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i := range s.doc.Locations {
		if s.doc.Locations[i].Name == l.Name {
			s.doc.Locations[i] = l
			replaced = true
			break
		}
	}
	if !replaced {
		s.doc.Locations = append(s.doc.Locations, l)
	}
	return s.persistLocked()
}

func (s *FileStore) DeleteLocation(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Locations {
		if s.doc.Locations[i].Name == name {
			s.doc.Locations = append(s.doc.Locations[:i], s.doc.Locations[i+1:]...)
			return s.persistLocked()
		}
	}
	return ErrNotFound
}

func (s *FileStore) SaveTaskBinding(ctx context.Context, t TaskBinding) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Tasks {
		if s.doc.Tasks[i].AccountName == t.AccountName && s.doc.Tasks[i].LocationName == t.LocationName {
			s.doc.Tasks[i] = t
			return s.persistLocked()
		}
	}
	s.doc.Tasks = append(s.doc.Tasks, t)
	return s.persistLocked()
}

func (s *FileStore) SetTaskEnabled(ctx context.Context, accountName, locationName string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Tasks {
		if s.doc.Tasks[i].AccountName == accountName && s.doc.Tasks[i].LocationName == locationName {
			s.doc.Tasks[i].Enabled = enabled
			return s.persistLocked()
		}
	}
	return ErrNotFound
}

func (s *FileStore) DeleteTaskBinding(ctx context.Context, accountName, locationName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Tasks {
		if s.doc.Tasks[i].AccountName == accountName && s.doc.Tasks[i].LocationName == locationName {
			s.doc.Tasks = append(s.doc.Tasks[:i], s.doc.Tasks[i+1:]...)
			return s.persistLocked()
		}
	}
	return ErrNotFound
}

func (s *FileStore) SaveSettings(ctx context.Context, set Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ScheduleTime = set.ScheduleTime
	s.doc.WeCom = set.WeCom
	s.doc.PushPlusToken = set.PushPlusToken
	return s.persistLocked()
}

func (s *FileStore) User(ctx context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.doc.Users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *FileStore) SaveUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Users {
		if s.doc.Users[i].Username == u.Username {
			s.doc.Users[i] = u
			return s.persistLocked()
		}
	}
	s.doc.Users = append(s.doc.Users, u)
	return s.persistLocked()
}

// Path returns the absolute location of the backing file, for operator output.
func (s *FileStore) Path() string {
	p, err := filepath.Abs(s.path)
	if err != nil {
		return s.path
	}
	return p
}
