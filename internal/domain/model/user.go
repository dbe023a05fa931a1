package model

import (
	"time"

	"telegram-image-editor/internal/domain"

	"github.com/google/uuid"
)

// User is a Telegram user of the bot together with their edit counters.
type User struct {
	ID           string
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	Preferences  UserPreferences
	IsActive     bool
	RegisteredAt time.Time
	LastActiveAt time.Time
	Stats        UserStats
}

type UserPreferences struct {
	AspectRatio  AspectRatio  `json:"aspect_ratio"`
	OutputFormat OutputFormat `json:"output_format"`
}

// TelegramProfile is what the chat transport knows about a sender.
type TelegramProfile struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

func NewUser(id string, p TelegramProfile, now time.Time) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if p.TelegramID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &User{
		ID:           id,
		TelegramID:   p.TelegramID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		LanguageCode: p.LanguageCode,
		Preferences: UserPreferences{
			AspectRatio:  DefaultAspectRatio,
			OutputFormat: DefaultOutputFormat,
		},
		IsActive:     true,
		RegisteredAt: now,
		LastActiveAt: now,
		Stats:        UserStats{FavoriteEditTypes: map[EditType]int{}},
	}, nil
}

func (u *User) Touch() { u.LastActiveAt = time.Now() }

// FullName joins first and last name, falling back to the username.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	}
	return "there"
}

// ApplyProfile copies changed profile fields; reports whether anything changed.
func (u *User) ApplyProfile(p TelegramProfile) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&u.Username, p.Username)
	set(&u.FirstName, p.FirstName)
	set(&u.LastName, p.LastName)
	set(&u.LanguageCode, p.LanguageCode)
	return changed
}

type UserStats struct {
	TotalEdits        int              `json:"total_edits"`
	SuccessfulEdits   int              `json:"successful_edits"`
	FailedEdits       int              `json:"failed_edits"`
	LastEditAt        *time.Time       `json:"last_edit_at,omitempty"`
	FavoriteEditTypes map[EditType]int `json:"favorite_edit_types"`
}

// Apply folds one terminal job outcome into the counters.
func (s *UserStats) Apply(o EditOutcome) {
	s.TotalEdits++
	if o.Success {
		s.SuccessfulEdits++
	} else {
		s.FailedEdits++
	}
	at := o.At
	s.LastEditAt = &at
	if o.EditType != "" {
		if s.FavoriteEditTypes == nil {
			s.FavoriteEditTypes = map[EditType]int{}
		}
		s.FavoriteEditTypes[o.EditType]++
	}
}

func (s UserStats) SuccessRate() float64 {
	if s.TotalEdits == 0 {
		return 0
	}
	return float64(s.SuccessfulEdits) / float64(s.TotalEdits) * 100
}

// FavoriteEditType is the most used edit type; ties break alphabetically.
func (s UserStats) FavoriteEditType() (EditType, bool) {
	top := topEditTypes(s.FavoriteEditTypes, 1)
	if len(top) == 0 {
		return "", false
	}
	return top[0].Type, true
}
