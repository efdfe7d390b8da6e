package model

import "time"

// SlotRequest asks the backend for a TransferSlot.
type SlotRequest struct {
	SubjectID    string   `json:"-"`
	Filename     string   `json:"filename"`
	ContentType  string   `json:"contentType"`
	Category     Category `json:"category"`
	EncounterRef *string  `json:"encounterRef,omitempty"`
}

// ConfirmRequest registers a transferred object. StorageKey must be the exact key
// returned by the matching SlotRequest.
type ConfirmRequest struct {
	SubjectID    string   `json:"-"`
	StorageKey   string   `json:"storageKey"`
	TransferID   string   `json:"transferId,omitempty"`
	Filename     string   `json:"filename"`
	ContentType  string   `json:"contentType"`
	SizeBytes    int64    `json:"sizeBytes"`
	Category     Category `json:"category"`
	EncounterRef *string  `json:"encounterRef,omitempty"`
}

// Slot is the backend's bookkeeping row for an issued TransferSlot.
type Slot struct {
	TransferID   string
	StorageKey   string
	SubjectID    string
	EncounterRef *string
	Category     Category
	Filename     string
	ContentType  string
	ExpiresAt    time.Time
	ConsumedAt   *time.Time
	CreatedAt    time.Time
}

// SameEncounter compares two optional encounter references.
func SameEncounter(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
