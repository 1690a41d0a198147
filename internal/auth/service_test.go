package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/C4T-BuT-S4D/hashchat/internal/store"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.Define(tableUsers, store.Unique("email"))
	return New(mem, WithHashCost(bcrypt.MinCost)), mem
}

// failingSelectStore accepts writes but fails every read.
type failingSelectStore struct {
	store.Store
}

func (failingSelectStore) Select(context.Context, string, store.Filter, any) error {
	return errors.New("connection reset")
}

func TestSignupThenLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	signedUp, err := svc.Signup(ctx, SignupRequest{
		Email:    "alice@example.com",
		Password: "hunter2",
		Username: "alice",
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	want := models.Session{
		ID:        signedUp.ID,
		Email:     "alice@example.com",
		Username:  "alice",
		AvatarURL: models.DefaultAvatarURL,
		Status:    models.UserStatusActive,
		Badges:    []string{models.BadgeNewUser},
		Role:      models.RoleUser,
	}
	if diff := cmp.Diff(want, signedUp); diff != "" {
		t.Errorf("signup session mismatch (-want +got):\n%s", diff)
	}

	loggedIn, err := svc.Login(ctx, "alice@example.com", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if diff := cmp.Diff(signedUp, loggedIn); diff != "" {
		t.Errorf("login session mismatch (-want +got):\n%s", diff)
	}
}

func TestSignupStoresHashNotPassword(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)

	if _, err := svc.Signup(ctx, SignupRequest{Email: "b@example.com", Password: "plaintext", Username: "b", AvatarURL: "https://img/b.png"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	var users []models.User
	if err := mem.Select(ctx, tableUsers, store.All(), &users); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected one user, got %d", len(users))
	}
	if users[0].PasswordHash == "plaintext" || users[0].PasswordHash == "" {
		t.Errorf("password stored as %q", users[0].PasswordHash)
	}
	if users[0].AvatarURL != "https://img/b.png" {
		t.Errorf("avatar = %q", users[0].AvatarURL)
	}
}

func TestLoginRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.Signup(ctx, SignupRequest{Email: "c@example.com", Password: "right", Username: "c"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	tcases := map[string]struct {
		email, password string
		want            error
	}{
		"wrong_password": {email: "c@example.com", password: "wrong", want: ErrInvalidCredentials},
		"unknown_email":  {email: "nobody@example.com", password: "right", want: ErrInvalidCredentials},
		"case_differs":   {email: "C@example.com", password: "right", want: ErrInvalidCredentials},
		"empty_password": {email: "c@example.com", password: "", want: ErrIncompleteForm},
		"empty_email":    {email: " ", password: "right", want: ErrIncompleteForm},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Login(ctx, tc.email, tc.password); !errors.Is(err, tc.want) {
				t.Errorf("Login() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoginAmbiguous(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := New(mem, WithHashCost(bcrypt.MinCost))

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	for _, id := range []string{"one", "two"} {
		if err := mem.Insert(ctx, tableUsers, &models.User{ID: id, Email: "dup@example.com", PasswordHash: string(hash)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if _, err := svc.Login(ctx, "dup@example.com", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for ambiguous match, got %v", err)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	req := SignupRequest{Email: "d@example.com", Password: "pw", Username: "d"}
	if _, err := svc.Signup(ctx, req); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	_, err := svc.Signup(ctx, req)
	var insertErr *InsertError
	if !errors.As(err, &insertErr) {
		t.Fatalf("expected InsertError, got %v", err)
	}
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected the store conflict to surface as-is, got %v", err)
	}
}

func TestSignupIncomplete(t *testing.T) {
	svc, _ := newTestService(t)
	for _, req := range []SignupRequest{
		{Password: "pw", Username: "x"},
		{Email: "x@example.com", Username: "x"},
		{Email: "x@example.com", Password: "pw", Username: "  "},
	} {
		if _, err := svc.Signup(context.Background(), req); !errors.Is(err, ErrIncompleteForm) {
			t.Errorf("Signup(%+v) error = %v, want ErrIncompleteForm", req, err)
		}
	}
}

func TestSignupLoginAfterFailure(t *testing.T) {
	mem := store.NewMemory()
	svc := New(failingSelectStore{Store: mem}, WithHashCost(bcrypt.MinCost))

	_, err := svc.Signup(context.Background(), SignupRequest{Email: "e@example.com", Password: "pw", Username: "e"})
	if !errors.Is(err, ErrLoginAfterSignup) {
		t.Errorf("expected ErrLoginAfterSignup, got %v", err)
	}
}

func TestRefreshAndEnsureAdmins(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)

	session, err := svc.Signup(ctx, SignupRequest{Email: "f@example.com", Password: "pw", Username: "f"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	if err := svc.EnsureAdmins(ctx, []string{"f@example.com", "absent@example.com"}); err != nil {
		t.Fatalf("EnsureAdmins: %v", err)
	}
	if err := mem.Update(ctx, tableUsers, store.Eq("id", session.ID), map[string]any{"status": models.UserStatusBanned}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, session)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.Role != models.RoleAdmin {
		t.Errorf("role = %q, want admin", refreshed.Role)
	}
	if refreshed.Status != models.UserStatusBanned {
		t.Errorf("status = %q, want Banned", refreshed.Status)
	}

	if _, err := svc.Refresh(ctx, models.Session{ID: "gone"}); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestSignupWithAdminEmail(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Define(tableUsers, store.Unique("email"))
	svc := New(mem, WithHashCost(bcrypt.MinCost), WithAdminEmails([]string{"root@example.com"}))

	root, err := svc.Signup(ctx, SignupRequest{Email: "root@example.com", Password: "pw", Username: "root"})
	if err != nil {
		t.Fatalf("Signup root: %v", err)
	}
	plain, err := svc.Signup(ctx, SignupRequest{Email: "user@example.com", Password: "pw", Username: "user"})
	if err != nil {
		t.Fatalf("Signup user: %v", err)
	}

	if root.Role != models.RoleAdmin {
		t.Errorf("root role = %q, want admin", root.Role)
	}
	if plain.Role != models.RoleUser {
		t.Errorf("user role = %q, want user", plain.Role)
	}
}
