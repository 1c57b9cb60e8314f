// Package registry persists stream records. The validation pipeline only
// consumes record URLs; it never owns record lifecycle.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"hls-viewer/internal/validation"
)

// MaxNameLength bounds Record.Name.
const MaxNameLength = 100

var (
	// ErrNotFound is returned when no record has the given id.
	ErrNotFound = errors.New("stream not found")

	// ErrDuplicateOrInvalid is returned when a record fails field checks or
	// its URL is already registered.
	ErrDuplicateOrInvalid = errors.New("duplicate or invalid stream")
)

// Record is a persisted stream.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Fields is a partial update; nil fields are left unchanged.
type Fields struct {
	Name        *string `json:"name,omitempty"`
	URL         *string `json:"url,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// Apply returns r with the set fields replaced.
func (f Fields) Apply(r Record) Record {
	if f.Name != nil {
		r.Name = *f.Name
	}
	if f.URL != nil {
		r.URL = *f.URL
	}
	if f.Description != nil {
		r.Description = *f.Description
	}
	if f.IsActive != nil {
		r.IsActive = *f.IsActive
	}
	return r
}

// Repository is the record store consumed by the viewer.
type Repository interface {
	// List returns all records, newest first.
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	// Create assigns ID and CreatedAt and stores r.
	Create(ctx context.Context, r Record) (Record, error)
	Update(ctx context.Context, id string, f Fields) (Record, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// normalize trims fields and checks them. The error wraps
// ErrDuplicateOrInvalid.
func normalize(r Record) (Record, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.URL = strings.TrimSpace(r.URL)
	r.Description = strings.TrimSpace(r.Description)

	if r.Name == "" {
		return r, fmt.Errorf("%w: name is required", ErrDuplicateOrInvalid)
	}
	if utf8.RuneCountInString(r.Name) > MaxNameLength {
		return r, fmt.Errorf("%w: name exceeds %d characters", ErrDuplicateOrInvalid, MaxNameLength)
	}
	if _, err := validation.ParseStreamURL(r.URL); err != nil {
		return r, fmt.Errorf("%w: %s", ErrDuplicateOrInvalid, err.Error())
	}
	return r, nil
}

func duplicateURL(url string) error {
	return fmt.Errorf("%w: url %s is already registered", ErrDuplicateOrInvalid, url)
}
