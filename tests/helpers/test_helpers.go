package helpers

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestJWTSecret signs tokens for handler tests; the middleware under test is
// configured with the same value.
const TestJWTSecret = "test-secret-key-for-testing-only"

// SetupTestDB connects to the integration database, skipping the test when
// none is configured.
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping test database: %v", err)
	}

	return pool
}

// CleanupTestDB removes players created by the tests and their cascaded rows.
func CleanupTestDB(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	_, err := pool.Exec(ctx, "DELETE FROM players WHERE username LIKE 'test_%'")
	if err != nil {
		t.Logf("Warning: failed to cleanup test data: %v", err)
	}
	pool.Close()
}

// TimezoneAtHour returns a fixed-offset IANA zone whose local wall clock is
// currently inside the given hour, so clock-gated behavior can be exercised
// no matter when the suite runs.
func TimezoneAtHour(hour int) string {
	offset := (hour - time.Now().UTC().Hour() + 24) % 24
	if offset > 14 {
		offset -= 24
	}
	if offset == 0 {
		return "Etc/GMT"
	}
	// Etc zone names invert the sign: Etc/GMT-5 is UTC+5.
	return fmt.Sprintf("Etc/GMT%+d", -offset)
}

// GenerateTestJWT issues a bearer token for the given player ID.
func GenerateTestJWT(userID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour * 24).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(TestJWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}
