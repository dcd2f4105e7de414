package audit

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

// memStore mirrors the persistence contract in memory for service tests.
type memStore struct {
	entries []Entry
	failing bool
}

func (m *memStore) Insert(ctx context.Context, e Entry) error {
	if m.failing {
		return errors.New("store down")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	var matched []Entry
	for _, e := range m.entries {
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.Resource != "" && e.Resource != f.Resource {
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })

	total := len(matched)
	start := (f.Page - 1) * f.Limit
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func seed(t *testing.T, svc *Service, n int, userID string) {
	t.Helper()
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		svc.Append(context.Background(), Entry{
			UserID:    userID,
			Action:    ActionAttendanceWrite,
			Resource:  "attendance",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func TestAppendSwallowsStoreFailure(t *testing.T) {
	store := &memStore{failing: true}
	svc := NewService(store)

	// must not panic or surface the error in any way
	svc.Append(context.Background(), Entry{Action: ActionLogin, Resource: "auth"})
	if len(store.entries) != 0 {
		t.Fatal("failing store should hold nothing")
	}
}

func TestAppendDefaults(t *testing.T) {
	store := &memStore{}
	svc := NewService(store)

	svc.Append(context.Background(), Entry{Action: ActionLogin, Resource: "auth"})
	if got := store.entries[0].UserID; got != "anonymous" {
		t.Fatalf("user id = %q, want anonymous", got)
	}
	if store.entries[0].Timestamp.IsZero() {
		t.Fatal("timestamp should be defaulted")
	}
}

func TestQuery(t *testing.T) {
	store := &memStore{}
	svc := NewService(store)
	seed(t, svc, 7, "alice")
	seed(t, svc, 3, "bob")

	t.Run("NoFilterDescending", func(t *testing.T) {
		entries, total, err := svc.Query(context.Background(), Filter{Limit: 100})
		if err != nil {
			t.Fatal(err)
		}
		if total != 10 || len(entries) != 10 {
			t.Fatalf("total = %d len = %d, want 10", total, len(entries))
		}
		for i := 1; i < len(entries); i++ {
			if entries[i].Timestamp.After(entries[i-1].Timestamp) {
				t.Fatal("entries not timestamp-descending")
			}
		}
	})

	t.Run("UserFilter", func(t *testing.T) {
		entries, total, err := svc.Query(context.Background(), Filter{UserID: "bob", Limit: 100})
		if err != nil {
			t.Fatal(err)
		}
		if total != 3 {
			t.Fatalf("total = %d, want 3", total)
		}
		for _, e := range entries {
			if e.UserID != "bob" {
				t.Fatalf("leaked entry for %q", e.UserID)
			}
		}
	})

	t.Run("PaginationTotals", func(t *testing.T) {
		for _, limit := range []int{1, 3, 4, 10} {
			seen := 0
			page := 1
			for {
				entries, total, err := svc.Query(context.Background(), Filter{Page: page, Limit: limit})
				if err != nil {
					t.Fatal(err)
				}
				if total != 10 {
					t.Fatalf("limit %d page %d: total = %d, want 10", limit, page, total)
				}
				if len(entries) == 0 {
					break
				}
				seen += len(entries)
				page++
			}
			if seen != 10 {
				t.Fatalf("limit %d: walked %d entries, want 10", limit, seen)
			}
		}
	})

	t.Run("DefaultsApplied", func(t *testing.T) {
		entries, _, err := svc.Query(context.Background(), Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 10 {
			t.Fatalf("default limit should cap at 10, got %d", len(entries))
		}
	})
}
