// Package auth handles operator logins for the admin API: bcrypt-verified
// users from the task store, sessions in a signed+encrypted cookie.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/punch-scheduler/internal/store"
)

const cookieName = "punchsched_session"

var ErrInvalidCredentials = errors.New("invalid credentials")

type ctxKey string

const usernameKey ctxKey = "username"

type Users interface {
	User(ctx context.Context, username string) (store.User, error)
	SaveUser(ctx context.Context, u store.User) error
}

type Store struct {
	sc    *securecookie.SecureCookie
	users Users
}

func NewStore(users Users, hashKey, blockKey []byte) *Store {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int((24 * time.Hour).Seconds()))
	return &Store{sc: sc, users: users}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func (s *Store) CreateUser(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.users.SaveUser(ctx, store.User{Username: username, PasswordBcrypt: hash})
}

func (s *Store) Authenticate(ctx context.Context, username, password string) error {
	u, err := s.users.User(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordBcrypt), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

type Session struct {
	Username string
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, username string) error {
	encoded, err := s.sc.Encode(cookieName, map[string]string{"u": username})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int((24 * time.Hour).Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	val := map[string]string{}
	if err := s.sc.Decode(cookieName, c.Value, &val); err != nil {
		return Session{}, false
	}
	u := val["u"]
	if u == "" {
		return Session{}, false
	}
	return Session{Username: u}, true
}

// RequireAuth rejects unauthenticated requests with a JSON 401; the admin
// surface has no pages to redirect to.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.GetSession(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		ctx := context.WithValue(r.Context(), usernameKey, sess.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func UsernameFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(usernameKey).(string)
	return u, ok
}
