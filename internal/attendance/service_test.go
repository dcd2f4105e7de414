package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classattend/internal/audit"
	"classattend/internal/face"
	"classattend/internal/geo"
	"classattend/internal/session"
)

var (
	campus     = geo.Point{Lat: -6.2000, Lng: 106.8000}
	testFence  = geo.Fence{Center: campus, RadiusMeters: 100}
	classStart = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
)

type fakeResolver struct {
	byID    map[string]session.Resolved
	byToken map[string]session.Resolved
	tokErr  error
}

func (f *fakeResolver) ResolveByID(ctx context.Context, id string) (session.Resolved, error) {
	r, ok := f.byID[id]
	if !ok {
		return session.Resolved{}, session.ErrNotFound
	}
	if r.Status != session.StatusActive {
		return session.Resolved{}, session.ErrNotActive
	}
	return r, nil
}

func (f *fakeResolver) ResolveByToken(ctx context.Context, token string) (session.Resolved, error) {
	if f.tokErr != nil {
		return session.Resolved{}, f.tokErr
	}
	r, ok := f.byToken[token]
	if !ok {
		return session.Resolved{}, session.ErrTokenInvalid
	}
	return r, nil
}

type fakeExtractor struct {
	extraction face.Extraction
	err        error
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte) (face.Extraction, error) {
	return f.extraction, f.err
}

type fakeDescriptors struct {
	byUser map[string]face.Descriptor
}

func (f *fakeDescriptors) Get(ctx context.Context, userID string) (face.Descriptor, error) {
	d, ok := f.byUser[userID]
	if !ok {
		return face.Descriptor{}, face.ErrNotEnrolled
	}
	return d, nil
}

// memRecords enforces the uniqueness contract the way the database does:
// one atomic decision per (user, session) pair under a single lock.
type memRecords struct {
	mu   sync.Mutex
	rows map[string]Record
}

func newMemRecords() *memRecords {
	return &memRecords{rows: make(map[string]Record)}
}

func (m *memRecords) Insert(ctx context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.UserID + "|" + rec.SessionID
	if _, exists := m.rows[key]; exists {
		return Record{}, false, nil
	}
	rec.CreatedAt = time.Now().UTC()
	m.rows[key] = rec
	return rec, true, nil
}

func (m *memRecords) UpdateStatus(ctx context.Context, recordID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.rows {
		if rec.ID == recordID {
			rec.Status = status
			m.rows[key] = rec
			return nil
		}
	}
	return ErrRecordNotFound
}

func (m *memRecords) ListByClass(ctx context.Context, classID string, from, to time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.rows {
		out = append(out, rec)
	}
	return out, nil
}

type fakeNotifier struct {
	delivered chan string
	err       error
}

func (f *fakeNotifier) Notify(ctx context.Context, teacherID, kind, message string) error {
	if f.err != nil {
		return f.err
	}
	select {
	case f.delivered <- teacherID:
	default:
	}
	return nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAuditor) Append(ctx context.Context, e audit.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

func (f *fakeAuditor) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Action
	}
	return out
}

type fixture struct {
	svc      *Service
	resolver *fakeResolver
	extract  *fakeExtractor
	records  *memRecords
	notifier *fakeNotifier
	auditor  *fakeAuditor
}

func activeSession() session.Resolved {
	return session.Resolved{
		Session: session.Session{
			ID:         "sess-1",
			ScheduleID: "sched-1",
			Status:     session.StatusActive,
			StartsAt:   classStart,
			EndsAt:     classStart.Add(90 * time.Minute),
		},
		ClassID:   "class-1",
		TeacherID: "teacher-1",
		Fence:     testFence,
	}
}

func newFixture(lateAfter time.Duration, now func() time.Time) *fixture {
	stored := []float32{0.1, 0.2, 0.3}
	f := &fixture{
		resolver: &fakeResolver{
			byID:    map[string]session.Resolved{"sess-1": activeSession()},
			byToken: map[string]session.Resolved{"good-token": activeSession()},
		},
		extract:  &fakeExtractor{extraction: face.Extraction{Descriptor: stored, Confidence: 0.9}},
		records:  newMemRecords(),
		notifier: &fakeNotifier{delivered: make(chan string, 64)},
		auditor:  &fakeAuditor{},
	}
	descriptors := &fakeDescriptors{byUser: map[string]face.Descriptor{
		"u1": {UserID: "u1", Vector: stored, Confidence: 0.9},
	}}
	if now == nil {
		now = func() time.Time { return classStart.Add(5 * time.Minute) }
	}
	f.svc = NewService(f.resolver, f.extract, descriptors, face.NewMatcher(0.6),
		f.records, f.notifier, f.auditor, lateAfter, now)
	return f
}

func rejectionCode(t *testing.T, err error) Code {
	t.Helper()
	r, ok := AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	return r.Code
}

func TestRecordFaceHappyPath(t *testing.T) {
	fix := newFixture(0, nil)

	rec, err := fix.svc.Record(context.Background(), "u1",
		FaceProof{SessionID: "sess-1", Image: []byte("img")}, campus)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if rec.Status != StatusPresent || rec.Method != MethodFace {
		t.Fatalf("got %s/%s, want PRESENT/FACE", rec.Status, rec.Method)
	}
	if rec.EvidenceFile == "" {
		t.Fatal("face submissions must carry an evidence reference")
	}

	select {
	case teacher := <-fix.notifier.delivered:
		if teacher != "teacher-1" {
			t.Fatalf("notified %q, want teacher-1", teacher)
		}
	case <-time.After(time.Second):
		t.Fatal("teacher notification never delivered")
	}

	found := false
	for _, a := range fix.auditor.actions() {
		if a == audit.ActionAttendanceWrite {
			found = true
		}
	}
	if !found {
		t.Fatal("successful write must be audited")
	}
}

func TestRecordQRHappyPath(t *testing.T) {
	fix := newFixture(0, nil)

	rec, err := fix.svc.Record(context.Background(), "u1", QRProof{Token: "good-token"}, campus)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if rec.Method != MethodQR || rec.Status != StatusPresent {
		t.Fatalf("got %s/%s, want PRESENT/QR_CODE", rec.Status, rec.Method)
	}
	if rec.EvidenceFile != "" {
		t.Fatal("qr submissions carry no evidence image")
	}
}

func TestRecordRejections(t *testing.T) {
	t.Run("SessionInvalid", func(t *testing.T) {
		fix := newFixture(0, nil)
		_, err := fix.svc.Record(context.Background(), "u1",
			FaceProof{SessionID: "nope", Image: []byte("img")}, campus)
		if code := rejectionCode(t, err); code != CodeSessionInvalid {
			t.Fatalf("code = %s, want SESSION_INVALID", code)
		}
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		fix := newFixture(0, nil)
		fix.resolver.tokErr = session.ErrTokenExpired
		_, err := fix.svc.Record(context.Background(), "u1", QRProof{Token: "stale"}, campus)
		if code := rejectionCode(t, err); code != CodeSessionExpired {
			t.Fatalf("code = %s, want SESSION_EXPIRED", code)
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		fix := newFixture(0, nil)
		farAway := geo.Point{Lat: -6.2090, Lng: 106.8000} // ~1km south
		_, err := fix.svc.Record(context.Background(), "u1",
			FaceProof{SessionID: "sess-1", Image: []byte("img")}, farAway)
		if code := rejectionCode(t, err); code != CodeLocationOutOfRange {
			t.Fatalf("code = %s, want LOCATION_OUT_OF_RANGE", code)
		}
	})

	t.Run("FaceMismatch", func(t *testing.T) {
		fix := newFixture(0, nil)
		fix.extract.extraction = face.Extraction{Descriptor: []float32{0.9, -0.8, 0.7}, Confidence: 0.9}
		_, err := fix.svc.Record(context.Background(), "u1",
			FaceProof{SessionID: "sess-1", Image: []byte("img")}, campus)
		if code := rejectionCode(t, err); code != CodeFaceMismatch {
			t.Fatalf("code = %s, want FACE_MISMATCH", code)
		}
	})

	t.Run("NoFaceDetected", func(t *testing.T) {
		fix := newFixture(0, nil)
		fix.extract.err = face.ErrNoFace
		_, err := fix.svc.Record(context.Background(), "u1",
			FaceProof{SessionID: "sess-1", Image: []byte("img")}, campus)
		if code := rejectionCode(t, err); code != CodeNoFaceDetected {
			t.Fatalf("code = %s, want NO_FACE_DETECTED", code)
		}
	})

	t.Run("ExtractionTimeout", func(t *testing.T) {
		fix := newFixture(0, nil)
		fix.extract.err = context.DeadlineExceeded
		_, err := fix.svc.Record(context.Background(), "u1",
			FaceProof{SessionID: "sess-1", Image: []byte("img")}, campus)
		if code := rejectionCode(t, err); code != CodeExtractionTimeout {
			t.Fatalf("code = %s, want EXTRACTION_TIMEOUT", code)
		}
		if len(fix.records.rows) != 0 {
			t.Fatal("nothing may be persisted after a timeout")
		}
	})

	t.Run("NotEnrolled", func(t *testing.T) {
		fix := newFixture(0, nil)
		_, err := fix.svc.Record(context.Background(), "stranger",
			FaceProof{SessionID: "sess-1", Image: []byte("img")}, campus)
		if code := rejectionCode(t, err); code != CodeFaceMismatch {
			t.Fatalf("code = %s, want FACE_MISMATCH", code)
		}
	})

	t.Run("RejectionAudited", func(t *testing.T) {
		fix := newFixture(0, nil)
		_, _ = fix.svc.Record(context.Background(), "u1",
			FaceProof{SessionID: "nope", Image: []byte("img")}, campus)
		actions := fix.auditor.actions()
		if len(actions) != 1 || actions[0] != audit.ActionAttendanceReject {
			t.Fatalf("actions = %v, want one ATTENDANCE_REJECT", actions)
		}
	})
}

func TestRecordDuplicate(t *testing.T) {
	fix := newFixture(0, nil)
	proof := QRProof{Token: "good-token"}

	if _, err := fix.svc.Record(context.Background(), "u1", proof, campus); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}
	_, err := fix.svc.Record(context.Background(), "u1", proof, campus)
	if code := rejectionCode(t, err); code != CodeAlreadyRecorded {
		t.Fatalf("code = %s, want ALREADY_RECORDED", code)
	}
	if len(fix.records.rows) != 1 {
		t.Fatalf("rows = %d, want exactly 1", len(fix.records.rows))
	}
}

func TestRecordConcurrentDuplicates(t *testing.T) {
	fix := newFixture(0, nil)
	const n = 25

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fix.svc.Record(context.Background(), "u1", QRProof{Token: "good-token"}, campus)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, duplicates := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		default:
			if code := rejectionCode(t, err); code == CodeAlreadyRecorded {
				duplicates++
			} else {
				t.Fatalf("unexpected rejection %s", code)
			}
		}
	}
	if successes != 1 || duplicates != n-1 {
		t.Fatalf("successes = %d duplicates = %d, want 1 and %d", successes, duplicates, n-1)
	}
	if len(fix.records.rows) != 1 {
		t.Fatalf("rows = %d, want exactly 1", len(fix.records.rows))
	}
}

func TestRecordLateClassification(t *testing.T) {
	late := func() time.Time { return classStart.Add(30 * time.Minute) }
	fix := newFixture(15*time.Minute, late)

	rec, err := fix.svc.Record(context.Background(), "u1", QRProof{Token: "good-token"}, campus)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if rec.Status != StatusLate {
		t.Fatalf("status = %s, want LATE", rec.Status)
	}
}

func TestNotificationFailureDoesNotFailRecord(t *testing.T) {
	fix := newFixture(0, nil)
	fix.notifier.err = errors.New("broker down")

	if _, err := fix.svc.Record(context.Background(), "u1", QRProof{Token: "good-token"}, campus); err != nil {
		t.Fatalf("record must succeed despite notification failure: %v", err)
	}
	if len(fix.records.rows) != 1 {
		t.Fatal("record must be persisted")
	}
}

func TestCorrect(t *testing.T) {
	fix := newFixture(0, nil)
	rec, err := fix.svc.Record(context.Background(), "u1", QRProof{Token: "good-token"}, campus)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("Applies", func(t *testing.T) {
		if err := fix.svc.Correct(context.Background(), "teacher-1", rec.ID, StatusExcused); err != nil {
			t.Fatalf("correct failed: %v", err)
		}
		rows, _ := fix.records.ListByClass(context.Background(), "class-1", time.Time{}, time.Time{})
		if rows[0].Status != StatusExcused {
			t.Fatalf("status = %s, want EXCUSED", rows[0].Status)
		}
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		if err := fix.svc.Correct(context.Background(), "teacher-1", rec.ID, Status("WRONG")); err == nil {
			t.Fatal("bogus status must be rejected")
		}
	})

	t.Run("MissingRecord", func(t *testing.T) {
		if err := fix.svc.Correct(context.Background(), "teacher-1", "nope", StatusAbsent); !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("err = %v, want ErrRecordNotFound", err)
		}
	})
}
