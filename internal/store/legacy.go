package store

import (
	"encoding/json"
	"fmt"
)

// The historical tool wrote two unversioned layouts: a flat single-account
// form (class/lat/lng/acc/cookie[]) and a structured accounts/locations/tasks
// form without a version field. MigrateLegacy lifts either into the current
// schema. It is pure: parse in, document out, no I/O.

const (
	legacyAccountName  = "Account %d"
	legacyLocationName = "Default Location"
)

type legacyFlat struct {
	Class         string          `json:"class"`
	Lat           Coord           `json:"lat"`
	Lng           Coord           `json:"lng"`
	Acc           Coord           `json:"acc"`
	Cookie        json.RawMessage `json:"cookie"`
	ScheduleTime  string          `json:"scheduletime"`
	PushPlusToken string          `json:"pushplus"`
	WeCom         WeCom           `json:"wecom"`
}

func MigrateLegacy(raw []byte) (document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return document{}, err
	}

	// Structured layout: already account/location/task shaped, just unversioned.
	if _, ok := probe["accounts"]; ok {
		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return document{}, err
		}
		doc.Version = schemaVersion
		return doc, nil
	}

	var flat legacyFlat
	if err := json.Unmarshal(raw, &flat); err != nil {
		return document{}, err
	}

	doc := document{
		Version:       schemaVersion,
		ScheduleTime:  flat.ScheduleTime,
		PushPlusToken: flat.PushPlusToken,
		WeCom:         flat.WeCom,
	}

	cookies, err := legacyCookies(flat.Cookie)
	if err != nil {
		return document{}, err
	}
	if len(cookies) == 0 {
		return doc, nil
	}

	loc := Location{Name: legacyLocationName, Lat: flat.Lat, Lng: flat.Lng, Acc: flat.Acc}
	doc.Locations = []Location{loc}
	for i, c := range cookies {
		name := fmt.Sprintf(legacyAccountName, i+1)
		doc.Accounts = append(doc.Accounts, Account{Name: name, Cookie: c, CourseID: flat.Class})
		doc.Tasks = append(doc.Tasks, TaskBinding{AccountName: name, LocationName: loc.Name, Enabled: true})
	}
	return doc, nil
}

// legacyCookies accepts either a single string or a list of strings.
func legacyCookies(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := list[:0]
		for _, c := range list {
			if c != "" {
				out = append(out, c)
			}
		}
		return out, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("cookie field is neither string nor list")
	}
	if single == "" {
		return nil, nil
	}
	return []string{single}, nil
}
