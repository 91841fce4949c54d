package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSignerIssueAndParse(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	token, issued, err := signer.Issue("usr_1", "Archivist", "archivist@example.org", "editor")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := signer.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims != issued {
		t.Fatalf("claims mismatch: %+v vs %+v", claims, issued)
	}
	if claims.Role != "editor" || claims.Email != "archivist@example.org" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSignerRejectsExpired(t *testing.T) {
	signer := NewSigner("secret", time.Minute)
	token, _, err := signer.Issue("usr_1", "Archivist", "", "viewer")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := signer.Parse(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	token, err := IssueToken([]byte("secret"), Claims{Sub: "usr_1", Name: "A", Role: "viewer", JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := ParseToken([]byte("secret"), token+".extra"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for extra segment, got %v", err)
	}
	if _, err := ParseToken([]byte("secret"), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestHashAndRandomToken(t *testing.T) {
	if HashToken("a") == HashToken("b") {
		t.Fatal("hashes should differ")
	}
	if got := RandomToken(16); len(got) != 32 || strings.Trim(got, "0123456789abcdef") != "" {
		t.Fatalf("unexpected random token %q", got)
	}
}
