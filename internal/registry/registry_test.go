package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"nexus-backend/internal/assistant"
	"nexus-backend/internal/events"
	"nexus-backend/internal/logging"
	"nexus-backend/internal/storage"
)

type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Millisecond)
	return c.cur
}

type testEnv struct {
	svc   *Service
	store *storage.Store
	bus   *events.Bus
}

func newTestEnv(t *testing.T, responder assistant.Responder) testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(ctx, "sqlite::memory:", logging.Discard())
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	bus := events.New(logging.Discard(), nil)
	clock := &stepClock{cur: time.Now()}
	svc, err := New(Options{
		Logger:      logging.Discard(),
		Store:       store,
		Bus:         bus,
		Responder:   responder,
		TokenSecret: []byte("test-secret"),
		TokenTTL:    time.Hour,
		BcryptCost:  bcrypt.MinCost,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(svc.Wait)
	return testEnv{svc: svc, store: store, bus: bus}
}

func mustRegister(t *testing.T, svc *Service, username, password string) AuthResult {
	t.Helper()
	res, err := svc.Register(context.Background(), username, password)
	if err != nil {
		t.Fatalf("Register(%q) error = %v", username, err)
	}
	return res
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestRegister_RejectsCaseInsensitiveDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)
	mustRegister(t, env.svc, "alice", "pw1")

	if _, err := env.svc.Register(context.Background(), "ALICE", "other"); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("Register(ALICE) error = %v, want ErrDuplicateUsername", err)
	}
	if _, err := env.svc.Register(context.Background(), "  Alice ", "other"); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("Register(' Alice ') error = %v, want ErrDuplicateUsername", err)
	}
}

func TestRegister_ValidatesInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "   ", "pw"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Register(blank) error = %v, want ErrInvalidInput", err)
	}
	if _, err := env.svc.Register(ctx, "dave", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Register(no password) error = %v, want ErrInvalidInput", err)
	}
}

func TestRegister_StoresHashAndDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var seen []events.Event
	env.bus.Subscribe(events.TypeNewUser, func(e events.Event) { seen = append(seen, e) })

	res := mustRegister(t, env.svc, "alice", "pw1")
	if res.Token == "" {
		t.Fatalf("expected a session token")
	}
	if res.User.CredentialHash != "" {
		t.Fatalf("credential hash leaked in result")
	}
	if !res.User.IsOnline || res.User.Role != RoleMember {
		t.Fatalf("user = %+v, want online member", res.User)
	}
	if res.User.AvatarRef != "https://api.dicebear.com/7.x/avataaars/svg?seed=alice" || res.User.StatusText != DefaultStatusText {
		t.Fatalf("unexpected defaults: %+v", res.User)
	}

	stored := storage.Read[User](ctx, env.store, storage.KeyUsers)
	if len(stored) != 1 {
		t.Fatalf("stored users = %d, want 1", len(stored))
	}
	if stored[0].CredentialHash == "pw1" {
		t.Fatalf("credential stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored[0].CredentialHash), []byte("pw1")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	if len(seen) != 1 {
		t.Fatalf("new_user events = %d, want 1", len(seen))
	}
	if nu := seen[0].(events.NewUserEvent); nu.ID != res.User.ID || nu.Username != "alice" {
		t.Fatalf("new_user payload = %+v", nu)
	}
}

func TestRegister_ConcurrentDistinctUsernamesAllPersist(t *testing.T) {
	env := newTestEnv(t, nil)

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.Register(context.Background(), fmt.Sprintf("user%02d", i), "pw")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	if got := storage.Read[User](context.Background(), env.store, storage.KeyUsers); len(got) != n {
		t.Fatalf("stored users = %d, want %d", len(got), n)
	}
}

func TestRegister_ConcurrentSameUsernameOneWins(t *testing.T) {
	env := newTestEnv(t, nil)

	names := []string{"carol", "Carol", "CAROL", "cArOl", "caroL", "CaRoL"}
	var wg sync.WaitGroup
	errs := make(chan error, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := env.svc.Register(context.Background(), name, "pw")
			errs <- err
		}(name)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDuplicateUsername):
		default:
			t.Fatalf("Register() unexpected error = %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("successful registrations = %d, want 1", wins)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := mustRegister(t, env.svc, "Alice", "pw1")

	if _, err := env.svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login(wrong password) error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := env.svc.Login(ctx, "nobody", "pw1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login(unknown) error = %v, want ErrInvalidCredentials", err)
	}

	var statuses []events.StatusEvent
	env.bus.Subscribe(events.TypeStatus, func(e events.Event) { statuses = append(statuses, e.(events.StatusEvent)) })

	res, err := env.svc.Login(ctx, "ALICE", "pw1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.User.ID != reg.User.ID || !res.User.IsOnline {
		t.Fatalf("Login() user = %+v", res.User)
	}
	if res.Token == reg.Token {
		t.Fatalf("expected a fresh token per login")
	}
	if len(statuses) != 1 || statuses[0].UserID != reg.User.ID || !statuses[0].IsOnline {
		t.Fatalf("status events = %+v", statuses)
	}
}

func TestLogin_SystemUserRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.svc.SeedSystemUsers(context.Background()); err != nil {
		t.Fatalf("SeedSystemUsers() error = %v", err)
	}
	if _, err := env.svc.Login(context.Background(), "Alex AI", "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login(system) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticateAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := mustRegister(t, env.svc, "alice", "pw1")

	u, err := env.svc.Authenticate(ctx, reg.Token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if u.ID != reg.User.ID {
		t.Fatalf("Authenticate() user = %q, want %q", u.ID, reg.User.ID)
	}

	if _, err := env.svc.Authenticate(ctx, "garbage"); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Authenticate(garbage) error = %v, want ErrAuthRequired", err)
	}

	second, err := env.svc.Login(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := env.svc.Logout(ctx, reg.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, reg.Token); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Authenticate(revoked) error = %v, want ErrAuthRequired", err)
	}
	if u, _ := env.svc.GetUser(ctx, reg.User.ID); !u.IsOnline {
		t.Fatalf("user went offline while another session is live")
	}

	if err := env.svc.Logout(ctx, second.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if u, _ := env.svc.GetUser(ctx, reg.User.ID); u.IsOnline {
		t.Fatalf("user still online after last logout")
	}
}

func TestAuthenticate_TokenFromOtherSecretRejected(t *testing.T) {
	a := newTestEnv(t, nil)
	b := newTestEnv(t, nil)
	b.svc.secret = []byte("another-secret")

	reg := mustRegister(t, b.svc, "alice", "pw1")
	if _, err := a.svc.Authenticate(context.Background(), reg.Token); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Authenticate() error = %v, want ErrAuthRequired", err)
	}
}

func TestSearchUsers_Containment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	names := []string{"alice", "Alicia", "bob", "malice", "BOBBY", "carol"}
	ids := map[string]string{}
	for _, n := range names {
		ids[n] = mustRegister(t, env.svc, n, "pw").User.ID
	}
	caller := ids["alice"]

	for _, q := range []string{"ali", "BOB", "o", "zzz", "c"} {
		got, err := env.svc.SearchUsers(ctx, caller, q)
		if err != nil {
			t.Fatalf("SearchUsers(%q) error = %v", q, err)
		}
		gotSet := map[string]bool{}
		for _, u := range got {
			gotSet[u.ID] = true
			if u.CredentialHash != "" {
				t.Fatalf("credential hash leaked in search result")
			}
		}
		for _, n := range names {
			want := ids[n] != caller && strings.Contains(strings.ToLower(n), strings.ToLower(q))
			if gotSet[ids[n]] != want {
				t.Fatalf("SearchUsers(%q) contains %q = %v, want %v", q, n, gotSet[ids[n]], want)
			}
		}
	}

	got, _ := env.svc.SearchUsers(ctx, caller, "ali")
	if len(got) != 2 || got[0].Username != "Alicia" || got[1].Username != "malice" {
		t.Fatalf("SearchUsers(ali) order = %+v", got)
	}

	if got, _ := env.svc.SearchUsers(ctx, caller, "   "); len(got) != 0 {
		t.Fatalf("SearchUsers(empty) = %d users, want 0", len(got))
	}
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	alice := mustRegister(t, env.svc, "alice", "pw")
	mustRegister(t, env.svc, "bob", "pw")

	taken := "BOB"
	if _, err := env.svc.UpdateProfile(ctx, alice.User.ID, ProfileUpdate{Username: &taken}); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("UpdateProfile(BOB) error = %v, want ErrDuplicateUsername", err)
	}

	name := "Alice"
	status := "busy"
	u, err := env.svc.UpdateProfile(ctx, alice.User.ID, ProfileUpdate{Username: &name, StatusText: &status})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if u.Username != "Alice" || u.StatusText != "busy" || u.AvatarRef != alice.User.AvatarRef {
		t.Fatalf("UpdateProfile() = %+v", u)
	}

	if _, err := env.svc.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("Login() after rename error = %v", err)
	}
	if _, err := env.svc.UpdateProfile(ctx, "ghost", ProfileUpdate{StatusText: &status}); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("UpdateProfile(ghost) error = %v, want ErrAuthRequired", err)
	}
}

func TestSeedSystemUsers_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := env.svc.SeedSystemUsers(ctx); err != nil {
			t.Fatalf("SeedSystemUsers() error = %v", err)
		}
	}
	users := storage.Read[User](ctx, env.store, storage.KeyUsers)
	wantNames := map[string]string{
		AssistantUserID: "Alex AI",
		"u2":            "Sarah Jenkins",
		"u3":            "Mike Ross",
		"u4":            "Jessica Pearson",
		"u5":            "Louis Litt",
	}
	if len(users) != len(wantNames) {
		t.Fatalf("users = %d, want %d", len(users), len(wantNames))
	}
	for _, u := range users {
		if wantNames[u.ID] != u.Username || u.Role != RoleSystem || u.CredentialHash != "" {
			t.Fatalf("seeded user = %+v", u)
		}
		if _, err := env.svc.Login(ctx, u.Username, "anything"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login(%q) error = %v, want ErrInvalidCredentials", u.Username, err)
		}
	}

	alice := mustRegister(t, env.svc, "alice", "pw1")
	found, err := env.svc.SearchUsers(ctx, alice.User.ID, "ross")
	if err != nil {
		t.Fatalf("SearchUsers() error = %v", err)
	}
	if len(found) != 1 || found[0].ID != "u3" {
		t.Fatalf("SearchUsers(ross) = %+v, want Mike Ross", found)
	}
	if _, err := env.svc.SendFriendRequest(ctx, alice.User.ID, "u3"); err != nil {
		t.Fatalf("SendFriendRequest(system user) error = %v", err)
	}
}
