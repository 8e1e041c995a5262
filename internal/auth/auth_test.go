package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"microvision.org/internal/login"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv(secretEnvVariable, value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t, "test-secret")

	op := login.Operator{ID: 7, Login: " ivan ", Mode: login.ModeTable}
	token, expires, err := GenerateToken(op, "shop-1", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expected future expiration, got %v", expires)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "7" || claims.Login != "ivan" || claims.Profile != "shop-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Mode != string(login.ModeTable) {
		t.Fatalf("unexpected mode: %s", claims.Mode)
	}
	id := IdentityFromClaims(claims)
	if id.OperatorID != 7 || id.Login != "ivan" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestParseRejectsForeignTokens(t *testing.T) {
	withSecret(t, "test-secret")

	now := time.Now().UTC()
	sign := func(c Claims, key string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(key))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	base := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	expired := base
	expired.IssuedAt = jwt.NewNumericDate(now.Add(-2 * time.Hour))
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
	wrongIssuer := base
	wrongIssuer.Issuer = "someone-else"
	badSubject := base
	badSubject.Subject = "admin"

	cases := map[string]string{
		"empty":     "",
		"garbage":   "not-a-token",
		"wrong key": sign(Claims{RegisteredClaims: base}, "other-secret"),
		"expired":   sign(Claims{RegisteredClaims: expired}, "test-secret"),
		"issuer":    sign(Claims{RegisteredClaims: wrongIssuer}, "test-secret"),
		"subject":   sign(Claims{RegisteredClaims: badSubject}, "test-secret"),
	}
	for name, token := range cases {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestMissingSecret(t *testing.T) {
	withSecret(t, "")
	if _, _, err := GenerateToken(login.Operator{ID: 1}, "", time.Minute); !errors.Is(err, errMissingSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	if _, _, err := GenerateToken(login.Operator{ID: 1}, "", 0); err == nil {
		t.Fatalf("expected ttl error")
	}
}

func TestContextHelpers(t *testing.T) {
	if _, ok := OperatorFromContext(context.Background()); ok {
		t.Fatalf("empty context should carry no operator")
	}
	ctx := ContextWithOperator(context.Background(), Identity{OperatorID: 3, Login: " maria "})
	id, ok := OperatorFromContext(ctx)
	if !ok || id.OperatorID != 3 || id.Login != "maria" {
		t.Fatalf("unexpected identity: %+v ok=%v", id, ok)
	}
}
