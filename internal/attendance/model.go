package attendance

import (
	"time"

	"classattend/internal/geo"
)

// Status classifies a proof-of-presence outcome.
type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
	StatusExcused Status = "EXCUSED"
)

// Method is how the proof was submitted.
type Method string

const (
	MethodManual    Method = "MANUAL"
	MethodAutomatic Method = "AUTOMATIC"
	MethodFace      Method = "FACE"
	MethodQR        Method = "QR_CODE"
)

// Record is one persisted attendance outcome. At most one record exists per
// (user, session) pair; the store's unique constraint enforces it.
type Record struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	Status       Status    `json:"status"`
	Method       Method    `json:"method"`
	Location     geo.Point `json:"location"`
	EvidenceFile string    `json:"evidence_file,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Proof is the tagged variant of client-submitted evidence, parsed once at
// the HTTP boundary and handled exhaustively by the recorder.
type Proof interface {
	isProof()
}

// FaceProof is a facial image submitted against a known session id.
type FaceProof struct {
	SessionID string
	Image     []byte
}

// QRProof is a scanned rotating token; the token itself identifies the session.
type QRProof struct {
	Token string
}

func (FaceProof) isProof() {}
func (QRProof) isProof()   {}
