package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/decyphers/platform/internal/auth"
	"github.com/decyphers/platform/internal/domain"
	"github.com/decyphers/platform/internal/guard"
	"github.com/decyphers/platform/internal/repository"
)

// Login methods recorded with each attempt.
const (
	MethodPassword = "password"
	MethodFirebase = "firebase"
)

// IdentityVerifier verifies a federated ID token.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*domain.Identity, error)
}

// EventPublisher receives domain events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// AccountProvisioner creates the ledger record credits are applied to.
// Existing records must be left untouched.
type AccountProvisioner interface {
	EnsureAccount(ctx context.Context, userID string) (bool, error)
}

// AuthService handles registration, password and federated login, and
// session revocation.
type AuthService struct {
	db        repository.DBTX
	users     repository.UserRepository
	revoked   repository.RevokedTokenRepository
	lockout   *guard.Lockout
	jwtMgr    *auth.JWTManager
	verifier  IdentityVerifier
	publisher EventPublisher
	accounts  AccountProvisioner
	logger    *slog.Logger
}

// NewAuthService creates a new AuthService. attempts, verifier, publisher and
// accounts may be nil.
func NewAuthService(
	db repository.DBTX,
	users repository.UserRepository,
	revoked repository.RevokedTokenRepository,
	attempts repository.LoginAttemptRepository,
	jwtMgr *auth.JWTManager,
	verifier IdentityVerifier,
	publisher EventPublisher,
	accounts AccountProvisioner,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	var store guard.AttemptStore
	if attempts != nil {
		store = attemptStore{db: db, repo: attempts}
	}
	return &AuthService{
		db:        db,
		users:     users,
		revoked:   revoked,
		lockout:   guard.NewLockout(store, logger),
		jwtMgr:    jwtMgr,
		verifier:  verifier,
		publisher: publisher,
		accounts:  accounts,
		logger:    logger,
	}
}

// attemptStore binds the login attempt repository to a connection.
type attemptStore struct {
	db   repository.DBTX
	repo repository.LoginAttemptRepository
}

func (a attemptStore) Record(ctx context.Context, email, method, ip string, success bool) error {
	return a.repo.Record(ctx, a.db, email, method, ip, success)
}

func (a attemptStore) CountFailuresSince(ctx context.Context, email, method string, since time.Time) (int, error) {
	return a.repo.CountFailuresSince(ctx, a.db, email, method, since)
}

// RegisterInput holds the registration request fields.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginInput holds the login request fields.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	IP       string `json:"-"`
}

// FirebaseLoginInput holds the federated login request fields.
type FirebaseLoginInput struct {
	IDToken string `json:"idToken"`
	IP      string `json:"-"`
}

// AuthResult is returned on successful registration or login.
type AuthResult struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *domain.User `json:"user"`
}

// Register creates a password account and signs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.TrimSpace(input.Email)
	if input.Name == "" {
		return nil, domain.ErrValidation("name is required")
	}
	if len(input.Name) > 255 {
		return nil, domain.ErrValidation("name must be at most 255 characters")
	}
	if err := domain.ValidateEmail(input.Email); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidatePassword(input.Password); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	existing, err := s.users.FindByEmail(ctx, s.db, input.Email)
	if err != nil {
		return nil, domain.ErrInternal("find user", err)
	}
	if existing != nil {
		return nil, domain.ErrConflict("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.ErrInternal("hash password", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, s.db, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.ErrConflict("email already registered")
		}
		return nil, domain.ErrInternal("create user", err)
	}

	s.publish(ctx, domain.NewUserCreatedEvent(user.ID, user.Email, MethodPassword))
	s.provision(ctx, user.ID.String())
	return s.issue(user)
}

// Login authenticates a password account.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	input.Email = strings.TrimSpace(input.Email)
	if input.Email == "" || input.Password == "" {
		return nil, domain.ErrValidation("email and password are required")
	}
	if err := s.lockout.Check(ctx, input.Email, MethodPassword); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, s.db, input.Email)
	if err != nil {
		return nil, domain.ErrInternal("find user", err)
	}
	if user == nil || user.PasswordHash == "" {
		s.lockout.Record(ctx, input.Email, MethodPassword, input.IP, false)
		return nil, domain.ErrUnauthorized("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.lockout.Record(ctx, input.Email, MethodPassword, input.IP, false)
		return nil, domain.ErrUnauthorized("Invalid credentials")
	}

	s.lockout.Record(ctx, input.Email, MethodPassword, input.IP, true)
	s.provision(ctx, user.ID.String())
	return s.issue(user)
}

// FirebaseLogin signs in with a verified Firebase ID token. A password
// account with the same email and no bound identity is linked; otherwise a
// new account is created.
func (s *AuthService) FirebaseLogin(ctx context.Context, input FirebaseLoginInput) (*AuthResult, error) {
	if strings.TrimSpace(input.IDToken) == "" {
		return nil, domain.ErrValidation("idToken is required")
	}
	if s.verifier == nil {
		return nil, domain.ErrNotConfigured("firebase auth")
	}

	identity, err := s.verifier.Verify(ctx, input.IDToken)
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		s.logger.Warn("firebase token rejected", "error", err)
		return nil, domain.ErrUnauthorized("Authentication failed")
	}
	if identity.Email == "" {
		return nil, domain.ErrUnauthorized("Authentication failed")
	}
	if err := s.lockout.Check(ctx, identity.Email, MethodFirebase); err != nil {
		return nil, err
	}

	user, err := s.resolveFederated(ctx, identity)
	if err != nil {
		return nil, err
	}

	s.lockout.Record(ctx, identity.Email, MethodFirebase, input.IP, true)
	// Federated clients address the ledger by provider uid.
	s.provision(ctx, identity.Subject)
	return s.issue(user)
}

const emailInUseMessage = "This email is already registered. Please try signing in with your password."

func (s *AuthService) resolveFederated(ctx context.Context, id *domain.Identity) (*domain.User, error) {
	user, err := s.users.FindByFirebaseUID(ctx, s.db, id.Subject)
	if err != nil {
		return nil, domain.ErrInternal("find user by uid", err)
	}
	if user != nil {
		return user, nil
	}

	user, err = s.users.FindByEmail(ctx, s.db, id.Email)
	if err != nil {
		return nil, domain.ErrInternal("find user", err)
	}
	if user != nil {
		if user.FirebaseUID != nil {
			return nil, domain.ErrConflict(emailInUseMessage)
		}
		bound, err := s.users.BindFirebaseUID(ctx, s.db, user.ID, id.Subject)
		if err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, domain.ErrConflict(emailInUseMessage)
			}
			return nil, domain.ErrInternal("bind firebase uid", err)
		}
		if !bound {
			return nil, domain.ErrConflict(emailInUseMessage)
		}
		uid := id.Subject
		user.FirebaseUID = &uid
		s.logger.Info("firebase identity linked", "user_id", user.ID)
		return user, nil
	}

	// Federated accounts get an unusable random password.
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, domain.ErrInternal("generate password", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(secret)), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.ErrInternal("hash password", err)
	}

	uid := id.Subject
	user = &domain.User{
		ID:           uuid.New(),
		Name:         id.Name,
		Email:        id.Email,
		PasswordHash: string(hash),
		FirebaseUID:  &uid,
	}
	if err := s.users.Create(ctx, s.db, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.ErrConflict(emailInUseMessage)
		}
		return nil, domain.ErrInternal("create user", err)
	}
	s.publish(ctx, domain.NewUserCreatedEvent(user.ID, user.Email, MethodFirebase))
	return user, nil
}

// CurrentUser returns the account behind a validated session.
func (s *AuthService) CurrentUser(ctx context.Context, claims *auth.Claims) (*domain.User, error) {
	if claims == nil {
		return nil, domain.ErrUnauthorized("not authenticated")
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, domain.ErrUnauthorized("invalid subject")
	}
	user, err := s.users.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, domain.ErrInternal("find user", err)
	}
	if user == nil {
		return nil, domain.ErrUnauthorized("account no longer exists")
	}
	return user, nil
}

// Logout revokes the current session token until it would have expired.
func (s *AuthService) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil {
		return domain.ErrUnauthorized("not authenticated")
	}
	id, err := claims.UserID()
	if err != nil {
		return domain.ErrUnauthorized("invalid subject")
	}
	expiresAt := time.Now()
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := s.revoked.Revoke(ctx, s.db, claims.ID, id, expiresAt); err != nil {
		return domain.ErrInternal("revoke token", err)
	}
	return nil
}

// IsRevoked reports whether a token id was logged out.
func (s *AuthService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return s.revoked.IsRevoked(ctx, s.db, jti)
}

// PurgeRevoked drops revocations for tokens that have expired anyway.
func (s *AuthService) PurgeRevoked(ctx context.Context) (int64, error) {
	return s.revoked.PurgeExpired(ctx, s.db, time.Now())
}

func (s *AuthService) issue(user *domain.User) (*AuthResult, error) {
	token, claims, err := s.jwtMgr.IssueSessionToken(user.ID, user.Email)
	if err != nil {
		return nil, domain.ErrInternal("generate token", err)
	}
	return &AuthResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   claims.ExpiresAt.Time,
		User:        user,
	}, nil
}

func (s *AuthService) publish(ctx context.Context, event domain.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", "event_type", event.EventType, "error", err)
	}
}

// provision makes sure the ledger record exists. A failure does not block
// sign-in; the next login retries it.
func (s *AuthService) provision(ctx context.Context, userID string) {
	if s.accounts == nil {
		return
	}
	created, err := s.accounts.EnsureAccount(ctx, userID)
	if err != nil {
		s.logger.Warn("ledger account setup failed", "user_id", userID, "error", err)
		return
	}
	if created {
		s.logger.Info("ledger account provisioned", "user_id", userID)
	}
}
