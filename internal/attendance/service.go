package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"classattend/internal/audit"
	"classattend/internal/face"
	"classattend/internal/geo"
	"classattend/internal/session"
)

// ErrRecordNotFound is returned when a correction targets a missing record.
var ErrRecordNotFound = errors.New("attendance record not found")

// SessionResolver validates that a session is open for attendance.
type SessionResolver interface {
	ResolveByID(ctx context.Context, id string) (session.Resolved, error)
	ResolveByToken(ctx context.Context, token string) (session.Resolved, error)
}

// DescriptorReader loads a user's stored face descriptor.
type DescriptorReader interface {
	Get(ctx context.Context, userID string) (face.Descriptor, error)
}

// RecordStore persists attendance records. Insert must be atomic with respect
// to the (user, session) uniqueness contract: when a record already exists it
// reports inserted=false instead of writing a duplicate.
type RecordStore interface {
	Insert(ctx context.Context, rec Record) (Record, bool, error)
	UpdateStatus(ctx context.Context, recordID string, status Status) error
	ListByClass(ctx context.Context, classID string, from, to time.Time) ([]Record, error)
}

// Notifier delivers a message to a teacher. Failures are the recorder's to
// log, never to propagate.
type Notifier interface {
	Notify(ctx context.Context, teacherID, kind, message string) error
}

// Auditor appends to the audit trail.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry)
}

// Service orchestrates attendance verification: session window, geofence,
// proof, then the atomic write.
type Service struct {
	sessions    SessionResolver
	extractor   face.DescriptorSource
	descriptors DescriptorReader
	matcher     *face.Matcher
	records     RecordStore
	notifier    Notifier
	auditor     Auditor
	lateAfter   time.Duration
	now         func() time.Time
}

// NewService wires the recorder. lateAfter <= 0 disables LATE classification.
// now may be nil, defaulting to time.Now.
func NewService(
	sessions SessionResolver,
	extractor face.DescriptorSource,
	descriptors DescriptorReader,
	matcher *face.Matcher,
	records RecordStore,
	notifier Notifier,
	auditor Auditor,
	lateAfter time.Duration,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		sessions:    sessions,
		extractor:   extractor,
		descriptors: descriptors,
		matcher:     matcher,
		records:     records,
		notifier:    notifier,
		auditor:     auditor,
		lateAfter:   lateAfter,
		now:         now,
	}
}

// Record runs a submission through the full validation chain and persists
// exactly one record per (user, session). Returns a *Rejection for business
// refusals; any other error is an infrastructure failure.
func (s *Service) Record(ctx context.Context, userID string, proof Proof, loc geo.Point) (Record, error) {
	if userID == "" {
		return Record{}, errors.New("user id required")
	}

	resolved, method, err := s.resolveSession(ctx, proof)
	if err != nil {
		return Record{}, s.rejected(ctx, userID, err)
	}

	if !resolved.Fence.Contains(loc) {
		dist := geo.Distance(resolved.Fence.Center, loc)
		return Record{}, s.rejected(ctx, userID, reject(CodeLocationOutOfRange,
			fmt.Sprintf("claimed location is %.0fm from class, allowed %.0fm", dist, resolved.Fence.RadiusMeters)))
	}

	evidence := ""
	if fp, ok := proof.(FaceProof); ok {
		evidence, err = s.verifyFace(ctx, userID, fp.Image)
		if err != nil {
			return Record{}, s.rejected(ctx, userID, err)
		}
	}

	rec := Record{
		ID:           uuid.NewString(),
		UserID:       userID,
		SessionID:    resolved.ID,
		Status:       s.classify(resolved),
		Method:       method,
		Location:     loc,
		EvidenceFile: evidence,
	}

	rec, inserted, err := s.records.Insert(ctx, rec)
	if err != nil {
		return Record{}, fmt.Errorf("attendance write: %w", err)
	}
	if !inserted {
		return Record{}, s.rejected(ctx, userID, reject(CodeAlreadyRecorded,
			"attendance already recorded for this session"))
	}

	// Notification is fire-and-forget: a delivery failure must not roll back
	// the write or delay the response.
	go s.notifyTeacher(resolved.TeacherID, userID, method)

	s.auditor.Append(ctx, audit.Entry{
		UserID:   userID,
		Action:   audit.ActionAttendanceWrite,
		Resource: "attendance",
		Details: map[string]string{
			"session_id": rec.SessionID,
			"method":     string(rec.Method),
			"status":     string(rec.Status),
		},
	})

	return rec, nil
}

// resolveSession maps the proof variant to the right lookup and translates
// session errors into stable rejection codes.
func (s *Service) resolveSession(ctx context.Context, proof Proof) (session.Resolved, Method, error) {
	switch p := proof.(type) {
	case FaceProof:
		resolved, err := s.sessions.ResolveByID(ctx, p.SessionID)
		return resolved, MethodFace, translateSessionErr(err)
	case QRProof:
		resolved, err := s.sessions.ResolveByToken(ctx, p.Token)
		return resolved, MethodQR, translateSessionErr(err)
	default:
		return session.Resolved{}, "", fmt.Errorf("unknown proof type %T", proof)
	}
}

func translateSessionErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrTokenExpired):
		return reject(CodeSessionExpired, "qr token has expired")
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrTokenInvalid):
		return reject(CodeSessionInvalid, "invalid or inactive session")
	default:
		return fmt.Errorf("session lookup: %w", err)
	}
}

// verifyFace extracts a descriptor from the submitted image and matches it
// against the user's stored template. Returns the evidence filename on success.
func (s *Service) verifyFace(ctx context.Context, userID string, image []byte) (string, error) {
	extraction, err := s.extractor.Extract(ctx, image)
	if err != nil {
		switch {
		case errors.Is(err, face.ErrNoFace):
			return "", reject(CodeNoFaceDetected, "no face detected in the image")
		case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
			return "", reject(CodeExtractionTimeout, "face extraction timed out")
		default:
			return "", fmt.Errorf("face extraction: %w", err)
		}
	}

	stored, err := s.descriptors.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, face.ErrNotEnrolled) {
			return "", reject(CodeFaceMismatch, "no face registered for this user")
		}
		return "", fmt.Errorf("descriptor lookup: %w", err)
	}

	match := s.matcher.Verify(stored.Vector, extraction.Descriptor)
	if !match.OK {
		return "", reject(CodeFaceMismatch,
			fmt.Sprintf("face match confidence %.2f below threshold", match.Confidence))
	}

	return uuid.NewString() + ".jpg", nil
}

// classify picks PRESENT or LATE based on the configured grace window.
func (s *Service) classify(resolved session.Resolved) Status {
	if s.lateAfter > 0 && s.now().After(resolved.StartsAt.Add(s.lateAfter)) {
		return StatusLate
	}
	return StatusPresent
}

func (s *Service) notifyTeacher(teacherID, userID string, method Method) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	verb := "QR code"
	if method == MethodFace {
		verb = "face recognition"
	}
	msg := fmt.Sprintf("%s has marked attendance using %s", userID, verb)
	if err := s.notifier.Notify(ctx, teacherID, "ATTENDANCE", msg); err != nil {
		log.Printf("teacher notification failed (teacher=%s): %v", teacherID, err)
	}
}

// rejected audits a business refusal and passes it through unchanged.
// Infrastructure errors are returned as-is without an audit entry.
func (s *Service) rejected(ctx context.Context, userID string, err error) error {
	if r, ok := AsRejection(err); ok {
		s.auditor.Append(ctx, audit.Entry{
			UserID:   userID,
			Action:   audit.ActionAttendanceReject,
			Resource: "attendance",
			Details:  map[string]string{"reason": string(r.Code)},
		})
	}
	return err
}

// Correct applies an authorized status correction to an existing record and
// audits the change. This is the only mutation allowed after a record is
// PRESENT or LATE.
func (s *Service) Correct(ctx context.Context, actorID, recordID string, status Status) error {
	switch status {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused:
	default:
		return fmt.Errorf("invalid status %q", status)
	}
	if err := s.records.UpdateStatus(ctx, recordID, status); err != nil {
		return err
	}
	s.auditor.Append(ctx, audit.Entry{
		UserID:   actorID,
		Action:   audit.ActionCorrection,
		Resource: "attendance",
		Details:  map[string]string{"record_id": recordID, "status": string(status)},
	})
	return nil
}

// Report lists a class's records within a date range.
func (s *Service) Report(ctx context.Context, classID string, from, to time.Time) ([]Record, error) {
	return s.records.ListByClass(ctx, classID, from, to)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
