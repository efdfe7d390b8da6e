package model

// Error codes carried in ErrorResponse.Error.
const (
	CodeInvalidSubject  = "invalid_subject"
	CodeInvalidCategory = "invalid_category"
	CodeInvalidRequest  = "invalid_request"
	CodeObjectMissing   = "object_missing"
	CodeSlotNotFound    = "slot_not_found"
	CodeSlotMismatch    = "slot_mismatch"
	CodeSizeMismatch    = "size_mismatch"
	CodeNotFound        = "not_found"
	CodeInternal        = "internal"
)

// ErrorResponse is the JSON body of every non-2xx API answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FileList is the body of a ListFiles answer.
type FileList struct {
	Files []ClinicalFileRecord `json:"files"`
}
