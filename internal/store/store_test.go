package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// drivers returns a fresh store per driver. PostgreSQL is included only when
// TEST_DATABASE_URL is set.
func drivers(t *testing.T) map[string]Store {
	t.Helper()

	stores := map[string]Store{}

	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	stores["file"] = fs

	ss, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	stores["sqlite"] = ss

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ps, err := NewPostgresStore(ctx, url)
		if err != nil {
			t.Logf("skipping postgres driver: %v", err)
		} else {
			if _, err := ps.pool.Exec(ctx, "TRUNCATE admin.users, admin.reset_tokens"); err != nil {
				t.Fatalf("failed to reset postgres tables: %v", err)
			}
			stores["postgres"] = ps
		}
	}

	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func testUser(email string) AdminUser {
	return AdminUser{
		ID:           "id-" + email,
		Email:        email,
		PasswordHash: "abcd",
		Salt:         "00ff",
		CreatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore_EmptyCollections(t *testing.T) {
	ctx := context.Background()
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			users, err := s.ReadAdminUsers(ctx)
			if err != nil {
				t.Fatalf("ReadAdminUsers() failed: %v", err)
			}
			if len(users) != 0 {
				t.Errorf("expected no users, got %d", len(users))
			}
			tokens, err := s.ReadResetTokens(ctx)
			if err != nil {
				t.Fatalf("ReadResetTokens() failed: %v", err)
			}
			if len(tokens) != 0 {
				t.Errorf("expected no tokens, got %d", len(tokens))
			}
		})
	}
}

func TestStore_WriteRead(t *testing.T) {
	ctx := context.Background()
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			want := []AdminUser{testUser("b@x.com"), testUser("a@x.com")}
			if err := s.WriteAdminUsers(ctx, want); err != nil {
				t.Fatalf("WriteAdminUsers() failed: %v", err)
			}

			got, err := s.ReadAdminUsers(ctx)
			if err != nil {
				t.Fatalf("ReadAdminUsers() failed: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 users, got %d", len(got))
			}
			// insertion order is preserved
			if got[0].Email != "b@x.com" || got[1].Email != "a@x.com" {
				t.Errorf("order = %s, %s", got[0].Email, got[1].Email)
			}
			if got[0].Salt != "00ff" || got[0].PasswordHash != "abcd" || got[0].ID != "id-b@x.com" {
				t.Errorf("user fields not preserved: %+v", got[0])
			}
			if !got[0].CreatedAt.Equal(want[0].CreatedAt) {
				t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, want[0].CreatedAt)
			}

			exp := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
			tokens := []ResetToken{{Email: "a@x.com", TokenHash: "h1", ExpiresAt: exp, CreatedAt: exp.Add(-time.Hour)}}
			if err := s.WriteResetTokens(ctx, tokens); err != nil {
				t.Fatalf("WriteResetTokens() failed: %v", err)
			}
			gotTokens, err := s.ReadResetTokens(ctx)
			if err != nil {
				t.Fatalf("ReadResetTokens() failed: %v", err)
			}
			if len(gotTokens) != 1 || gotTokens[0].TokenHash != "h1" || !gotTokens[0].ExpiresAt.Equal(exp) {
				t.Errorf("tokens = %+v", gotTokens)
			}

			if err := s.WriteResetTokens(ctx, nil); err != nil {
				t.Fatalf("WriteResetTokens(nil) failed: %v", err)
			}
			gotTokens, _ = s.ReadResetTokens(ctx)
			if len(gotTokens) != 0 {
				t.Errorf("expected tokens cleared, got %d", len(gotTokens))
			}
		})
	}
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	errAbort := errors.New("abort")

	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.WriteAdminUsers(ctx, []AdminUser{testUser("a@x.com")}); err != nil {
				t.Fatal(err)
			}

			err := s.Update(ctx, func(tx Tx) error {
				tx.SetAdminUsers(append(tx.AdminUsers(), testUser("b@x.com")))
				return errAbort
			})
			if !errors.Is(err, errAbort) {
				t.Fatalf("Update() error = %v, want errAbort", err)
			}

			users, _ := s.ReadAdminUsers(ctx)
			if len(users) != 1 {
				t.Errorf("expected rollback to leave 1 user, got %d", len(users))
			}
		})
	}
}

func TestStore_UpdateIsSerialized(t *testing.T) {
	ctx := context.Background()
	const workers = 8
	const limit = 3

	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					s.Update(ctx, func(tx Tx) error {
						users := tx.AdminUsers()
						if len(users) >= limit {
							return nil
						}
						email := string(rune('a'+i)) + "@x.com"
						tx.SetAdminUsers(append(users, testUser(email)))
						return nil
					})
				}(i)
			}
			wg.Wait()

			users, err := s.ReadAdminUsers(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(users) != limit {
				t.Errorf("expected exactly %d users under concurrent capped inserts, got %d", limit, len(users))
			}
		})
	}
}

func TestStore_TxGettersReturnCopies(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteAdminUsers(ctx, []AdminUser{testUser("a@x.com")}); err != nil {
		t.Fatal(err)
	}

	err = s.Update(ctx, func(tx Tx) error {
		users := tx.AdminUsers()
		users[0].Email = "mutated@x.com"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	users, _ := s.ReadAdminUsers(ctx)
	if users[0].Email != "a@x.com" {
		t.Errorf("mutating a getter result leaked into the store: %s", users[0].Email)
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, usersFile), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.ReadAdminUsers(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Errorf("ReadAdminUsers() error = %v, want ErrCorrupt", err)
	}
	err = s.Update(context.Background(), func(tx Tx) error {
		t.Error("Update callback must not run on a corrupt store")
		return nil
	})
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Update() error = %v, want ErrCorrupt", err)
	}
}

func TestFileStore_ReadsExistingDocument(t *testing.T) {
	dir := t.TempDir()
	doc := `[{"email":"a@x.com","passwordHash":"ab","salt":"cd","createdAt":"2024-01-02T03:04:05.000Z"}]`
	if err := os.WriteFile(filepath.Join(dir, usersFile), []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	users, err := s.ReadAdminUsers(context.Background())
	if err != nil {
		t.Fatalf("ReadAdminUsers() failed: %v", err)
	}
	if len(users) != 1 || users[0].Salt != "cd" || users[0].CreatedAt.Year() != 2024 {
		t.Errorf("users = %+v", users)
	}
}

func TestFileStore_FileMode(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteAdminUsers(context.Background(), []AdminUser{testUser("a@x.com")}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dir, usersFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("users file mode = %o, want 600", perm)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{"default is file", Options{DataDir: dir}, nil},
		{"sqlite under data dir", Options{Driver: "sqlite", DataDir: dir}, nil},
		{"unknown driver", Options{Driver: "mongo", DataDir: dir}, ErrUnknownDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			s.Close()
		})
	}

	if _, err := Open(ctx, Options{Driver: "postgres"}); err == nil {
		t.Error("Open(postgres) without DSN should fail")
	}
}

func TestResetToken_Expired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"future", now.Add(time.Minute), false},
		{"exactly now", now, true},
		{"past", now.Add(-time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (ResetToken{ExpiresAt: tt.expires}).Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
