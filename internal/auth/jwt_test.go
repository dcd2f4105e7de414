package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("u1", RoleStudent, "classattend", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	t.Run("ValidAccessToken", func(t *testing.T) {
		claims, err := Parse(pair.AccessToken, "test-key", "classattend")
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if claims.Subject != "u1" || claims.Role != RoleStudent {
			t.Fatalf("claims = %+v", claims)
		}
	})

	t.Run("RefreshCarriesSameClaims", func(t *testing.T) {
		claims, err := Parse(pair.RefreshToken, "test-key", "classattend")
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if claims.Subject != "u1" || claims.Role != RoleStudent {
			t.Fatalf("claims = %+v", claims)
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		if _, err := Parse(pair.AccessToken, "other-key", "classattend"); err == nil {
			t.Fatal("token signed with another key must fail")
		}
	})

	t.Run("WrongIssuer", func(t *testing.T) {
		if _, err := Parse(pair.AccessToken, "test-key", "someone-else"); err == nil {
			t.Fatal("issuer mismatch must fail")
		}
	})

	t.Run("Expired", func(t *testing.T) {
		old, err := Issue("u1", RoleStudent, "classattend", "test-key", -time.Minute, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Parse(old.AccessToken, "test-key", "classattend"); err == nil {
			t.Fatal("expired token must fail")
		}
	})
}
