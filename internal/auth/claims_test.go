package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndParseAccessToken(t *testing.T) {
	secret := "test-secret-key-for-jwt-signing"

	token, err := GenerateAccessToken("usr-001", []string{"home-1", "home-2"}, secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateAccessToken() returned empty token")
	}

	claims, err := ParseToken(token, secret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.Subject != "usr-001" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "usr-001")
	}
	if len(claims.HomeIDs) != 2 {
		t.Fatalf("HomeIDs = %v, want two homes", claims.HomeIDs)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateAccessToken("usr-001", []string{"home-1"}, "correct-secret", 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	if _, err = ParseToken(token, "wrong-secret"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Garbage(t *testing.T) {
	if _, err := ParseToken("not-a-valid-jwt", "secret"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Expired(t *testing.T) {
	// Sign an already-expired token directly so the test doesn't sleep.
	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr-001",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-30 * time.Minute)),
			ID:        "jti-1",
		},
		HomeIDs: []string{"home-1"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}

	if _, err := ParseToken(token, "secret"); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ParseToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestParseToken_MissingSubject(t *testing.T) {
	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}

	if _, err := ParseToken(token, "secret"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestHasHome(t *testing.T) {
	claims := &CustomClaims{HomeIDs: []string{"home-1", "home-2"}}

	if !claims.HasHome("home-1") {
		t.Error("HasHome(home-1) = false, want true")
	}
	if claims.HasHome("home-3") {
		t.Error("HasHome(home-3) = true, want false")
	}

	empty := &CustomClaims{}
	if empty.HasHome("home-1") {
		t.Error("empty scope should cover nothing")
	}
}
