// Package wardrobe defines the clothing/user records the gateway reads and
// mutates, and the store contract the tool executor talks to.
package wardrobe

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Allowed values of User.Sex.
const (
	SexMan   = "man"
	SexWoman = "woman"
)

// User is a wardrobe owner profile.
type User struct {
	ID             string
	Name           string
	Sex            string
	CharacterModel string
}

// Cloth is one clothing item.
type Cloth struct {
	ID       int64
	UserID   string
	Name     string
	Type     string
	Color    string
	Style    string
	Season   string
	Material string
	Favorite bool
	Image    string
}

// ClothFilter narrows ListClothes. Empty fields match everything.
type ClothFilter struct {
	Type     string
	Color    string
	Style    string
	Season   string
	Favorite *bool
}

// EditableFields are the descriptive cloth fields UpdateCloth may change.
var EditableFields = []string{"name", "type", "color", "style", "season", "material"}

// Store is the persistence collaborator. Record ownership is not checked
// here; callers compare Cloth.UserID with the requesting identity.
type Store interface {
	GetUser(ctx context.Context, userID string) (User, error)
	SetUserSex(ctx context.Context, userID, sex string) error
	ListClothes(ctx context.Context, userID string, filter ClothFilter) ([]Cloth, error)
	GetCloth(ctx context.Context, clothID int64) (Cloth, error)
	UpdateCloth(ctx context.Context, clothID int64, fields map[string]string) error
	SetFavorite(ctx context.Context, clothID int64, favorite bool) error
	DeleteCloth(ctx context.Context, clothID int64) error
}
