package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// signClaims signs arbitrary claims, for tokens GenerateAccessToken would never produce.
func signClaims(t *testing.T, method jwt.SigningMethod, claims CustomClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestGenerateAndParseAccessToken(t *testing.T) {
	token, err := GenerateAccessToken("usr-001", RoleAdmin, testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateAccessToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.Subject != "usr-001" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "usr-001")
	}
	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
	}
	if claims.SessionID == "" {
		t.Error("SessionID should not be empty")
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateAccessToken("usr-001", RoleUser, "correct-secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	_, err = ParseToken(token, "wrong-secret")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Malformed(t *testing.T) {
	for _, raw := range []string{"", "abc.def", "not-a-valid-jwt"} {
		if _, err := ParseToken(raw, testSecret); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("ParseToken(%q) error = %v, want ErrTokenInvalid", raw, err)
		}
	}
}

func TestParseToken_Rejected(t *testing.T) {
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "usr-001",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}

	tests := []struct {
		name   string
		method jwt.SigningMethod
		claims CustomClaims
	}{
		{
			name:   "expired",
			method: jwt.SigningMethodHS256,
			claims: CustomClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   "usr-001",
					ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
				},
				Role: RoleUser,
			},
		},
		{
			name:   "no expiry",
			method: jwt.SigningMethodHS256,
			claims: CustomClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "usr-001"}, Role: RoleUser},
		},
		{
			name:   "other HMAC algorithm",
			method: jwt.SigningMethodHS384,
			claims: CustomClaims{RegisteredClaims: valid, Role: RoleUser},
		},
		{
			name:   "missing subject",
			method: jwt.SigningMethodHS256,
			claims: CustomClaims{
				RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: valid.ExpiresAt},
				Role:             RoleUser,
			},
		},
		{
			name:   "unknown role",
			method: jwt.SigningMethodHS256,
			claims: CustomClaims{RegisteredClaims: valid, Role: "guest"},
		},
		{
			name:   "missing role",
			method: jwt.SigningMethodHS256,
			claims: CustomClaims{RegisteredClaims: valid},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signClaims(t, tt.method, tt.claims)
			if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestGenerateAccessToken_DefaultTTL(t *testing.T) {
	token, err := GenerateAccessToken("usr-001", RoleUser, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	expectedExpiry := time.Now().Add(15 * time.Minute)
	diff := claims.ExpiresAt.Time.Sub(expectedExpiry)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL should be ~15 minutes, got expiry diff of %v", diff)
	}
}
