package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/punch-scheduler/internal/db"
)

// ErrNotFound is returned when a named record does not exist.
var ErrNotFound = db.ErrNotFound

// Coord is a decimal-degree coordinate. Config files written by older
// releases store coordinates as strings, so it unmarshals from both forms.
type Coord float64

func (c *Coord) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*c = 0
			return nil
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("invalid coordinate %q: %w", str, err)
		}
		*c = Coord(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*c = Coord(f)
	return nil
}

// Account is one portal identity. Cookie is the opaque session credential
// captured from an authenticated browser; Password is the optional
// check-in password some courses require.
type Account struct {
	Name     string `json:"name"`
	Cookie   string `json:"cookie"`
	CourseID string `json:"class_id"`
	Password string `json:"pwd,omitempty"`
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("account name required")
	}
	if strings.TrimSpace(a.Cookie) == "" {
		return fmt.Errorf("account cookie required")
	}
	if strings.TrimSpace(a.CourseID) == "" {
		return fmt.Errorf("account class id required")
	}
	return nil
}

// Location is a named base coordinate used for simulated check-ins.
type Location struct {
	Name string `json:"name"`
	Lat  Coord  `json:"lat"`
	Lng  Coord  `json:"lng"`
	Acc  Coord  `json:"acc"`
}

func (l Location) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("location name required")
	}
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude out of range")
	}
	if l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("longitude out of range")
	}
	return nil
}

// TaskBinding pairs an account with a location. Only enabled bindings are
// considered by a check-in pass.
type TaskBinding struct {
	AccountName  string `json:"account_name"`
	LocationName string `json:"location_name"`
	Enabled      bool   `json:"enable"`
}

func (t TaskBinding) Validate() error {
	if strings.TrimSpace(t.AccountName) == "" {
		return fmt.Errorf("task account name required")
	}
	if strings.TrimSpace(t.LocationName) == "" {
		return fmt.Errorf("task location name required")
	}
	return nil
}

// WeCom holds the enterprise-messaging webhook fields. The channel is
// considered configured only when all four are present.
type WeCom struct {
	CorpID  string `json:"corpid"`
	Secret  string `json:"secret"`
	AgentID string `json:"agentid"`
	ToUser  string `json:"touser"`
}

func (w WeCom) Complete() bool {
	return w.CorpID != "" && w.Secret != "" && w.AgentID != "" && w.ToUser != ""
}

// Settings are the store-resident runtime settings: the daily schedule and
// the notification channels.
type Settings struct {
	ScheduleTime  string `json:"scheduletime"` // "HH:MM", empty = manual mode
	WeCom         WeCom  `json:"wecom"`
	PushPlusToken string `json:"pushplus"`
}

// User is an operator login for the admin API.
type User struct {
	Username       string `json:"username"`
	PasswordBcrypt string `json:"password_bcrypt"`
}

// Store is the full contract shared by the file and postgres backends.
// The check-in engine consumes only the read half (see checkin.ConfigSource).
type Store interface {
	Accounts(ctx context.Context) ([]Account, error)
	Locations(ctx context.Context) ([]Location, error)
	TaskBindings(ctx context.Context) ([]TaskBinding, error)
	Settings(ctx context.Context) (Settings, error)

	SaveAccount(ctx context.Context, a Account) error
	DeleteAccount(ctx context.Context, name string) error
	SaveLocation(ctx context.Context, l Location) error
	DeleteLocation(ctx context.Context, name string) error
	SaveTaskBinding(ctx context.Context, t TaskBinding) error
	SetTaskEnabled(ctx context.Context, accountName, locationName string, enabled bool) error
	DeleteTaskBinding(ctx context.Context, accountName, locationName string) error
	SaveSettings(ctx context.Context, s Settings) error

	User(ctx context.Context, username string) (User, error)
	SaveUser(ctx context.Context, u User) error

	Close()
}
