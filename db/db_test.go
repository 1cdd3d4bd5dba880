package db_test

import (
	"context"
	"testing"
	"time"

	. "github.com/patchbay-tv/chatbot/db"
	"github.com/patchbay-tv/chatbot/testutil"
)

func TestOAuthTokenRoundtrip(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := UpsertOAuthToken(ctx, dbx, "db_test_provider", "access-1", "refresh-1", expiry, "chat:read"); err != nil {
		t.Fatalf("UpsertOAuthToken: %v", err)
	}

	access, refresh, gotExpiry, scope, err := GetOAuthToken(ctx, dbx, "db_test_provider")
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if access != "access-1" || refresh != "refresh-1" || scope != "chat:read" {
		t.Errorf("got (%q, %q, %q)", access, refresh, scope)
	}
	if !gotExpiry.Equal(expiry) {
		t.Errorf("expiry = %s, want %s", gotExpiry, expiry)
	}

	// Upsert replaces the row.
	if err := UpsertOAuthToken(ctx, dbx, "db_test_provider", "access-2", "refresh-2", expiry, ""); err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	access, refresh, _, _, err = GetOAuthToken(ctx, dbx, "db_test_provider")
	if err != nil || access != "access-2" || refresh != "refresh-2" {
		t.Errorf("after update: (%q, %q, %v)", access, refresh, err)
	}
}

func TestGetOAuthTokenMissing(t *testing.T) {
	dbx := testutil.SetupTestDB(t)
	if _, _, _, _, err := GetOAuthToken(context.Background(), dbx, "db_test_nosuch"); err == nil {
		t.Error("missing provider must error")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dbx := testutil.SetupTestDB(t) // runs Migrate once already
	if err := Migrate(dbx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}
