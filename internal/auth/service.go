package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/logging"
	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/C4T-BuT-S4D/hashchat/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const tableUsers = "users"

type Service struct {
	store  store.Store
	cost   int
	admins map[string]struct{}
	now    func() time.Time
	log    *logrus.Entry
}

type Option func(*Service)

// WithHashCost overrides the bcrypt cost, mostly to keep tests fast.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// WithAdminEmails grants the admin role to accounts signing up with these emails.
func WithAdminEmails(emails []string) Option {
	return func(s *Service) {
		for _, e := range emails {
			s.admins[e] = struct{}{}
		}
	}
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		cost:   bcrypt.DefaultCost,
		admins: make(map[string]struct{}),
		now:    time.Now,
		log:    logging.Component("auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SignupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

func (s *Service) Login(ctx context.Context, email, password string) (models.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return models.Session{}, ErrIncompleteForm
	}

	users, err := s.usersByEmail(ctx, email)
	if err != nil {
		return models.Session{}, err
	}
	if len(users) != 1 {
		s.log.Infof("login rejected for %q: %d matching accounts", email, len(users))
		return models.Session{}, ErrInvalidCredentials
	}

	user := users[0]
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Infof("login rejected for %q: password mismatch", email)
		return models.Session{}, ErrInvalidCredentials
	}

	s.log.Infof("user %s logged in", user.ID)
	return user.Session(), nil
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (models.Session, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	req.AvatarURL = strings.TrimSpace(req.AvatarURL)
	if req.Email == "" || req.Password == "" || req.Username == "" {
		return models.Session{}, ErrIncompleteForm
	}
	if req.AvatarURL == "" {
		req.AvatarURL = models.DefaultAvatarURL
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return models.Session{}, fmt.Errorf("hashing password: %w", err)
	}

	role := models.RoleUser
	if _, ok := s.admins[req.Email]; ok {
		role = models.RoleAdmin
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		Username:     req.Username,
		AvatarURL:    req.AvatarURL,
		Status:       models.UserStatusActive,
		Role:         role,
		Badges:       []string{models.BadgeNewUser},
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Insert(ctx, tableUsers, user); err != nil {
		s.log.Warnf("signup for %q refused: %v", req.Email, err)
		return models.Session{}, &InsertError{Err: err}
	}

	session, err := s.Login(ctx, req.Email, req.Password)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %w", ErrLoginAfterSignup, err)
	}

	s.log.Infof("user %s signed up", session.ID)
	return session, nil
}

// Refresh re-reads the account behind a session so that status and role
// changes apply to sessions issued before them.
func (s *Service) Refresh(ctx context.Context, session models.Session) (models.Session, error) {
	var users []models.User
	if err := s.store.Select(ctx, tableUsers, store.Eq("id", session.ID), &users); err != nil {
		return session, fmt.Errorf("getting user: %w", err)
	}
	if len(users) != 1 {
		return session, ErrSessionRevoked
	}
	return users[0].Session(), nil
}

// EnsureAdmins grants the admin role to existing accounts with the given emails.
func (s *Service) EnsureAdmins(ctx context.Context, emails []string) error {
	var finalErr error
	for _, email := range emails {
		if err := s.store.Update(
			ctx,
			tableUsers,
			store.Eq("email", email),
			map[string]any{"role": models.RoleAdmin},
		); err != nil {
			finalErr = errors.Join(finalErr, fmt.Errorf("promoting %q: %w", email, err))
			continue
		}
		s.log.Infof("ensured admin role for %q", email)
	}
	return finalErr
}

func (s *Service) usersByEmail(ctx context.Context, email string) ([]models.User, error) {
	var users []models.User
	if err := s.store.Select(ctx, tableUsers, store.Eq("email", email), &users); err != nil {
		return nil, fmt.Errorf("getting users: %w", err)
	}
	return users, nil
}
