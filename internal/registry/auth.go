package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"nexus-backend/internal/events"
	"nexus-backend/internal/storage"
)

const (
	tokenIssuer       = "nexus-backend"
	maxUsernameLength = 32
	maxPasswordBytes  = 72
)

// Register creates a member account, marks it online and opens a session.
func (s *Service) Register(ctx context.Context, username, password string) (AuthResult, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return AuthResult{}, err
	}
	if password == "" || len(password) > maxPasswordBytes {
		return AuthResult{}, fmt.Errorf("%w: password must be 1-%d bytes", ErrInvalidInput, maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash credential: %w", err)
	}

	nowMs := s.nowMs()
	user := User{
		ID:             uuid.NewString(),
		Username:       username,
		CredentialHash: string(hash),
		AvatarRef:      defaultAvatarURL + username,
		StatusText:     DefaultStatusText,
		IsOnline:       true,
		LastSeenMs:     nowMs,
		Role:           RoleMember,
		CreatedAtMs:    nowMs,
	}

	if _, err := storage.Update(ctx, s.store, storage.KeyUsers, func(users []User) ([]User, error) {
		if usernameTaken(users, username, "") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUsername, username)
		}
		return append(users, user), nil
	}); err != nil {
		return AuthResult{}, err
	}

	s.logger.Info("user registered", "userID", user.ID, "username", user.Username)
	s.bus.Publish(ctx, events.NewUserEvent{
		ID:         user.ID,
		Username:   user.Username,
		AvatarRef:  user.AvatarRef,
		StatusText: user.StatusText,
		Role:       string(user.Role),
	})

	return s.openSession(ctx, user)
}

// Login checks the credential against a case-insensitive username match.
// System users have no credential and cannot log in.
func (s *Service) Login(ctx context.Context, username, password string) (AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return AuthResult{}, ErrInvalidCredentials
	}

	var candidate User
	found := false
	for _, u := range s.users(ctx) {
		if strings.EqualFold(u.Username, username) {
			candidate, found = u, true
			break
		}
	}
	if !found || candidate.Role == RoleSystem || candidate.CredentialHash == "" {
		return AuthResult{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(candidate.CredentialHash), []byte(password)); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	nowMs := s.nowMs()
	var user User
	if _, err := storage.Update(ctx, s.store, storage.KeyUsers, func(users []User) ([]User, error) {
		for i := range users {
			if users[i].ID == candidate.ID {
				users[i].IsOnline = true
				users[i].LastSeenMs = nowMs
				user = users[i]
				return users, nil
			}
		}
		return nil, ErrInvalidCredentials
	}); err != nil {
		return AuthResult{}, err
	}

	s.bus.Publish(ctx, presenceEvent(user))
	return s.openSession(ctx, user)
}

// Logout revokes the session behind token. The user goes offline once no
// other live session remains.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.parseToken(token)
	if err != nil {
		return err
	}

	nowMs := s.nowMs()
	remaining := 0
	if _, err := storage.Update(ctx, s.store, storage.KeySessions, func(sessions []SessionRecord) ([]SessionRecord, error) {
		remaining = 0
		kept := sessions[:0:0]
		for _, rec := range sessions {
			if rec.ID == claims.ID || rec.ExpiresAtMs <= nowMs {
				continue
			}
			if rec.UserID == claims.Subject {
				remaining++
			}
			kept = append(kept, rec)
		}
		return kept, nil
	}); err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	var user User
	changed := false
	if _, err := storage.Update(ctx, s.store, storage.KeyUsers, func(users []User) ([]User, error) {
		changed = false
		for i := range users {
			if users[i].ID == claims.Subject {
				if !users[i].IsOnline {
					return nil, storage.ErrNoChange
				}
				users[i].IsOnline = false
				users[i].LastSeenMs = nowMs
				user, changed = users[i], true
				return users, nil
			}
		}
		return nil, storage.ErrNoChange
	}); err != nil {
		return err
	}
	if changed {
		s.bus.Publish(ctx, presenceEvent(user))
	}
	return nil
}

// Authenticate resolves a token to its user. Tokens whose session record is
// gone or expired are rejected.
func (s *Service) Authenticate(ctx context.Context, token string) (User, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return User{}, err
	}

	nowMs := s.nowMs()
	live := false
	for _, rec := range storage.Read[SessionRecord](ctx, s.store, storage.KeySessions) {
		if rec.ID == claims.ID && rec.UserID == claims.Subject && rec.ExpiresAtMs > nowMs {
			live = true
			break
		}
	}
	if !live {
		return User{}, fmt.Errorf("%w: session revoked or expired", ErrAuthRequired)
	}

	user, err := s.requireUser(ctx, claims.Subject)
	if err != nil {
		return User{}, err
	}
	return user.public(), nil
}

// ValidateToken is Authenticate reduced to the user id.
func (s *Service) ValidateToken(ctx context.Context, token string) (string, error) {
	u, err := s.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (s *Service) openSession(ctx context.Context, user User) (AuthResult, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	rec := SessionRecord{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		CreatedAtMs: now.UnixMilli(),
		ExpiresAtMs: expiresAt.UnixMilli(),
	}

	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		Issuer:    tokenIssuer,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        rec.ID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return AuthResult{}, fmt.Errorf("sign token: %w", err)
	}

	nowMs := now.UnixMilli()
	if _, err := storage.Update(ctx, s.store, storage.KeySessions, func(sessions []SessionRecord) ([]SessionRecord, error) {
		kept := make([]SessionRecord, 0, len(sessions)+1)
		for _, existing := range sessions {
			if existing.ExpiresAtMs > nowMs {
				kept = append(kept, existing)
			}
		}
		return append(kept, rec), nil
	}); err != nil {
		return AuthResult{}, err
	}

	return AuthResult{User: user.public(), Token: token, ExpiresAtMs: rec.ExpiresAtMs}, nil
}

func (s *Service) parseToken(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrAuthRequired
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return claims, fmt.Errorf("%w: token subject or id missing", ErrAuthRequired)
	}
	return claims, nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n == 0 || n > maxUsernameLength {
		return fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidInput, maxUsernameLength)
	}
	return nil
}

// usernameTaken reports a case-insensitive clash with any user other than exceptID.
func usernameTaken(users []User, username, exceptID string) bool {
	for _, u := range users {
		if u.ID != exceptID && strings.EqualFold(u.Username, username) {
			return true
		}
	}
	return false
}

func presenceEvent(u User) events.StatusEvent {
	return events.StatusEvent{
		UserID:     u.ID,
		Username:   u.Username,
		AvatarRef:  u.AvatarRef,
		StatusText: u.StatusText,
		IsOnline:   u.IsOnline,
		LastSeenMs: u.LastSeenMs,
	}
}
