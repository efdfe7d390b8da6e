// Package model contains the value types shared by the upload client and the
// records backend.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCategory is returned when a category is not one of the five
// supported tags.
var ErrInvalidCategory = errors.New("invalid category")

// Category classifies a clinical file. The set is closed.
type Category string

const (
	CategoryXRay    Category = "X-RAY"
	CategoryLab     Category = "LAB"
	CategoryPhoto   Category = "PHOTO"
	Category3DModel Category = "3D-MODEL"
	CategoryOther   Category = "OTHER"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryXRay, CategoryLab, CategoryPhoto, Category3DModel, CategoryOther}

// ParseCategory accepts any casing and surrounding whitespace and returns the
// canonical tag.
func ParseCategory(raw string) (Category, error) {
	candidate := Category(strings.ToUpper(strings.TrimSpace(raw)))
	for _, c := range Categories {
		if c == candidate {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// Valid reports whether c is one of the canonical tags.
func (c Category) Valid() bool {
	parsed, err := ParseCategory(string(c))
	return err == nil && parsed == c
}

// Slug is the lower-case form used inside storage keys.
func (c Category) Slug() string {
	return strings.ToLower(string(c))
}

// TransferSlot authorizes exactly one PUT of a file's bytes.
type TransferSlot struct {
	UploadURL  string    `json:"uploadUrl"`
	StorageKey string    `json:"storageKey"`
	TransferID string    `json:"transferId"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// ClinicalFileRecord is the durable metadata row for a stored object. It only
// exists once ConfirmTransfer has verified the object.
type ClinicalFileRecord struct {
	ID               string    `json:"id"`
	SubjectID        string    `json:"subjectId"`
	EncounterRef     *string   `json:"encounterRef,omitempty"`
	OriginalFilename string    `json:"originalFilename"`
	MimeType         string    `json:"mimeType"`
	SizeBytes        int64     `json:"sizeBytes"`
	Category         Category  `json:"category"`
	PageCount        *int      `json:"pageCount,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	ViewURL          string    `json:"viewUrl,omitempty"`
	DownloadURL      string    `json:"downloadUrl,omitempty"`
	// StorageKey stays on the backend.
	StorageKey string `json:"-"`
}
