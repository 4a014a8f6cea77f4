package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobboard_auth/internal/cache"
	"jobboard_auth/internal/events"
	"jobboard_auth/internal/logging"
	"jobboard_auth/internal/model"
	"jobboard_auth/internal/repository"
	"jobboard_auth/internal/utils"
)

var (
	ErrUserAlreadyExists  = errors.New("user with this email already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTokenNotFound      = errors.New("token not found")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// AuthService provides authentication related services
type AuthService interface {
	Register(ctx context.Context, req model.RegisterRequest) (*model.AuthenticationResponse, error)
	Authenticate(ctx context.Context, req model.AuthenticationRequest) (*model.AuthenticationResponse, error)
	Logout(ctx context.Context, token string) error
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
	CurrentUser(ctx context.Context, userID int) (*model.User, error)
	RevokeUserTokens(ctx context.Context, userID int) (int, error)
}

type authService struct {
	store             repository.Store
	jwtUtil           *utils.JWTUtil
	tokenCache        cache.TokenCache
	publisher         events.Publisher
	initialAdminEmail string
	now               func() time.Time
}

// Option configures optional collaborators of the AuthService
type Option func(*authService)

func WithTokenCache(c cache.TokenCache) Option {
	return func(s *authService) {
		if c != nil {
			s.tokenCache = c
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *authService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithInitialAdminEmail makes registration of this email create an ADMIN account
func WithInitialAdminEmail(email string) Option {
	return func(s *authService) {
		s.initialAdminEmail = normalizeEmail(email)
	}
}

// NewAuthService creates a new AuthService
func NewAuthService(store repository.Store, jwtUtil *utils.JWTUtil, opts ...Option) AuthService {
	s := &authService{
		store:      store,
		jwtUtil:    jwtUtil,
		tokenCache: cache.NoopTokenCache{},
		publisher:  events.NoopPublisher{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new user account and issues its first token
func (s *authService) Register(ctx context.Context, req model.RegisterRequest) (*model.AuthenticationResponse, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")
	email := normalizeEmail(req.Email)

	existingUser, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existingUser != nil {
		return nil, ErrUserAlreadyExists
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	userRole := model.RoleUser
	if s.initialAdminEmail != "" && email == s.initialAdminEmail {
		userRole = model.RoleAdmin
		l.Info("registering initial admin", "email", email)
	}

	user := &model.User{
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        email,
		PasswordHash: hashedPassword,
		Role:         userRole,
		CreatedAt:    s.now(),
	}

	var jwtToken string
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicateEmail) {
				return ErrUserAlreadyExists
			}
			return fmt.Errorf("failed to create user in repository: %w", err)
		}

		token, err := s.jwtUtil.GenerateToken(user)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		jwtToken = token
		return s.saveUserToken(ctx, tx, user, jwtToken)
	})
	if err != nil {
		return nil, err
	}

	l.Info("user registered", "user_id", user.ID, "role", user.Role)
	s.publish(ctx, events.Event{Type: events.TypeUserRegistered, UserID: user.ID, Email: user.Email})

	return &model.AuthenticationResponse{Token: jwtToken}, nil
}

// Authenticate verifies credentials, revokes every previously valid token of
// the user and issues a new one. Revocation and insertion share a transaction
// holding the user's row lock, so concurrent logins of one user serialize.
func (s *authService) Authenticate(ctx context.Context, req model.AuthenticationRequest) (*model.AuthenticationResponse, error) {
	l := logging.FromContext(ctx).With("svc", "auth.authenticate")

	user, err := s.checkCredentials(ctx, normalizeEmail(req.Email), req.Password)
	if err != nil {
		return nil, err
	}

	jwtToken, err := s.jwtUtil.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	var revoked []*model.Token
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Users().LockByID(ctx, user.ID); err != nil {
			if errors.Is(err, repository.ErrRecordNotFound) {
				return ErrInvalidCredentials
			}
			return err
		}

		var err error
		revoked, err = s.revokeAllUserTokens(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		return s.saveUserToken(ctx, tx, user, jwtToken)
	})
	if err != nil {
		return nil, err
	}

	s.cacheRevoked(ctx, revoked)
	l.Info("user authenticated", "user_id", user.ID, "revoked_tokens", len(revoked))
	s.publish(ctx, events.Event{
		Type:   events.TypeUserAuthenticated,
		UserID: user.ID,
		Email:  user.Email,
		Meta:   map[string]any{"revoked_tokens": len(revoked)},
	})

	return &model.AuthenticationResponse{Token: jwtToken}, nil
}

// Logout revokes the presented token. Logging out an already revoked token is
// a no-op.
func (s *authService) Logout(ctx context.Context, token string) error {
	var stored *model.Token
	changed := false
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		stored, err = tx.Tokens().FindByToken(ctx, token)
		if err != nil {
			return err
		}
		if stored == nil {
			return ErrTokenNotFound
		}
		if !stored.Valid() {
			return nil
		}
		stored.Revoke()
		if err := tx.Tokens().SaveAll(ctx, []*model.Token{stored}); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.cacheRevoked(ctx, []*model.Token{stored})
	logging.FromContext(ctx).Info("user logged out", "user_id", stored.UserID)
	s.publish(ctx, events.Event{Type: events.TypeUserLoggedOut, UserID: stored.UserID})
	return nil
}

// ValidateToken checks the signature and expiry of a bearer token and that its
// persisted record is still valid.
func (s *authService) ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := s.jwtUtil.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	revoked, err := s.tokenCache.IsRevoked(ctx, token)
	if err != nil {
		logging.FromContext(ctx).Warn("token cache lookup failed", "error", err)
	} else if revoked {
		return nil, ErrInvalidToken
	}

	stored, err := s.store.Tokens().FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if stored == nil || !stored.Valid() || stored.UserID != claims.UserID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CurrentUser loads the profile of an authenticated user
func (s *authService) CurrentUser(ctx context.Context, userID int) (*model.User, error) {
	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// RevokeUserTokens runs the revocation sweep for a user and reports how many
// tokens were revoked.
func (s *authService) RevokeUserTokens(ctx context.Context, userID int) (int, error) {
	var revoked []*model.Token
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Users().LockByID(ctx, userID); err != nil {
			if errors.Is(err, repository.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		var err error
		revoked, err = s.revokeAllUserTokens(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.cacheRevoked(ctx, revoked)
	logging.FromContext(ctx).Info("user tokens revoked", "user_id", userID, "count", len(revoked))
	s.publish(ctx, events.Event{
		Type:   events.TypeUserTokensRevoked,
		UserID: userID,
		Meta:   map[string]any{"revoked_tokens": len(revoked)},
	})
	return len(revoked), nil
}

// checkCredentials stands in for an authentication manager: unknown email and
// wrong password are indistinguishable to the caller.
func (s *authService) checkCredentials(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("error finding user by email: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if !utils.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *authService) saveUserToken(ctx context.Context, tx repository.Store, user *model.User, jwtToken string) error {
	token := &model.Token{
		UserID:    user.ID,
		Token:     jwtToken,
		TokenType: model.TokenTypeBearer,
		Expired:   false,
		Revoked:   false,
		CreatedAt: s.now(),
	}
	if err := tx.Tokens().Create(ctx, token); err != nil {
		return fmt.Errorf("failed to save user token: %w", err)
	}
	return nil
}

func (s *authService) revokeAllUserTokens(ctx context.Context, tx repository.Store, userID int) ([]*model.Token, error) {
	validUserTokens, err := tx.Tokens().FindAllValidByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load valid tokens: %w", err)
	}
	if len(validUserTokens) == 0 {
		return nil, nil
	}
	for _, t := range validUserTokens {
		t.Revoke()
	}
	if err := tx.Tokens().SaveAll(ctx, validUserTokens); err != nil {
		return nil, fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return validUserTokens, nil
}

func (s *authService) cacheRevoked(ctx context.Context, tokens []*model.Token) {
	for _, t := range tokens {
		if err := s.tokenCache.MarkRevoked(ctx, t.Token, s.jwtUtil.TTL()); err != nil {
			logging.FromContext(ctx).Warn("failed to cache revoked token", "token_id", t.ID, "error", err)
		}
	}
}

func (s *authService) publish(ctx context.Context, event events.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logging.FromContext(ctx).Warn("failed to publish auth event", "type", event.Type, "error", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
