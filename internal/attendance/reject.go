package attendance

import "errors"

// Code is a stable, machine-readable rejection reason. Clients and audits
// rely on these values; do not rename.
type Code string

const (
	CodeSessionInvalid     Code = "SESSION_INVALID"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeLocationOutOfRange Code = "LOCATION_OUT_OF_RANGE"
	CodeNoFaceDetected     Code = "NO_FACE_DETECTED"
	CodeFaceMismatch       Code = "FACE_MISMATCH"
	CodeAlreadyRecorded    Code = "ALREADY_RECORDED"
	CodeExtractionTimeout  Code = "EXTRACTION_TIMEOUT"
)

// Rejection is a business refusal of a submission. It is recoverable by the
// client resubmitting with corrected input, unlike infrastructure errors.
type Rejection struct {
	Code    Code
	Message string
}

func (r *Rejection) Error() string {
	return string(r.Code) + ": " + r.Message
}

func reject(code Code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

// AsRejection extracts a Rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
