// Package services contains the server-side session management logic:
// credential verification, token pair issuance, refresh token rotation with
// reuse detection, and scoped revocation.
package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/akarpov87/schoolauth/internal/common"
	"github.com/akarpov87/schoolauth/internal/dbx"
	"github.com/akarpov87/schoolauth/internal/logging"
	"github.com/akarpov87/schoolauth/internal/server/auth"
	"github.com/akarpov87/schoolauth/internal/server/config"
	"github.com/akarpov87/schoolauth/internal/server/models"
	"github.com/akarpov87/schoolauth/internal/server/repositories/repomanager"
)

const (
	// TokenType is the token_type reported alongside every issued pair.
	TokenType = "Bearer"

	defaultRole     = "Basic"
	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute
	minPasswordLen  = 8
)

// errAlreadyRotated signals that MarkUsed found the token spent: a
// concurrent rotation committed first and this caller lost the race.
var errAlreadyRotated = errors.New("refresh token already rotated")

// RequestMeta carries provenance captured from the incoming request. It is
// recorded on issued tokens and used for the same-browser session collapse;
// it never gates authorization.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// RegisterRequest is the input for creating an account.
type RegisterRequest struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// AuthResult is the outcome of login, registration, and refresh: a fresh
// token pair plus lifetimes in seconds. After a rotation,
// RefreshTokenExpiresIn reports the time remaining until the inherited
// family expiry, not a full fresh window.
type AuthResult struct {
	AccessToken           string
	RefreshToken          string
	ExpiresIn             int
	RefreshTokenExpiresIn int
	TokenType             string
	User                  *models.User
}

// AuthService is the session rotation engine. Every operation takes the
// caller's identity explicitly; nothing is read from ambient request state.
type AuthService struct {
	db              *sql.DB
	repos           repomanager.RepositoryManager
	issuer          *auth.Issuer
	logger          logging.Logger
	refreshValidity time.Duration
	reuseGrace      time.Duration
	now             func() time.Time
}

// NewAuthService constructs the engine from repositories and server config.
func NewAuthService(db *sql.DB, repos repomanager.RepositoryManager, issuer *auth.Issuer, logger logging.Logger, cfg *config.Config) *AuthService {
	return &AuthService{
		db:              db,
		repos:           repos,
		issuer:          issuer,
		logger:          logger.With("module", "auth_service"),
		refreshValidity: cfg.RefreshTokenValidity,
		reuseGrace:      cfg.ReuseGraceWindow,
		now:             time.Now,
	}
}

// WithClock replaces the time source. Test seam.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// Login verifies credentials and mints a root token pair. A fresh FamilyID
// starts the lineage; any other live session from the identical
// (user, IP, user agent) tuple is revoked first so repeated logins from one
// browser do not pile up duplicate sessions.
func (s *AuthService) Login(ctx context.Context, username, password string, rememberMe bool, meta RequestMeta) (*AuthResult, error) {
	usersRepo := s.repos.Users(s.db)

	user, err := usersRepo.GetByUsername(ctx, username)
	if errors.Is(err, common.ErrorNotFound) {
		user, err = usersRepo.GetByEmail(ctx, username)
	}
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "login failed: unknown user", "username", username)
			return nil, common.Unauthorizedf("invalid username or password")
		}
		return nil, common.Internalf("login failed").WithCause(err)
	}

	now := s.now()

	if user.LockedOut(now) {
		s.logger.Warn(ctx, "login rejected: account locked", "user_id", user.ID)
		return nil, common.Unauthorizedf("account is locked due to multiple failed login attempts")
	}

	if !user.IsActive || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.registerFailedLogin(ctx, user, now)
		return nil, common.Unauthorizedf("invalid username or password")
	}

	user.FailedLoginCount = 0
	user.LockoutUntil = nil
	user.LastLoginDate = &now

	validity := s.refreshValidity
	if rememberMe {
		validity *= 2
	}

	accessToken, jti, err := s.issuer.Issue(user.ID, user.Username, user.Email, user.Roles)
	if err != nil {
		return nil, common.Internalf("login failed").WithCause(err)
	}
	secret, err := common.GenerateRefreshSecret()
	if err != nil {
		return nil, common.Internalf("login failed").WithCause(err)
	}

	root := &models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Token:       secret,
		JwtID:       jti,
		FamilyID:    uuid.NewString(),
		GeneratedBy: models.GeneratedByPassword,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		DeviceName:  deviceName(meta.UserAgent),
		CreatedDate: now,
		ExpiryDate:  now.Add(validity),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		tokensTx := s.repos.RefreshTokens(tx)

		existing, err := tokensTx.GetNonRevokedByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		var stale []*models.RefreshToken
		for _, t := range existing {
			if t.IPAddress == meta.IPAddress && t.UserAgent == meta.UserAgent {
				s.revoke(t, now)
				stale = append(stale, t)
			}
		}
		if len(stale) > 0 {
			s.logger.Info(ctx, "collapsed same-browser sessions", "user_id", user.ID, "revoked", len(stale))
			if err := tokensTx.UpdateAll(ctx, stale); err != nil {
				return err
			}
		}

		if err := tokensTx.Insert(ctx, root); err != nil {
			return err
		}
		return s.repos.Users(tx).Update(ctx, user)
	})
	if err != nil {
		return nil, common.Internalf("login failed").WithCause(err)
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.ID, "ip", meta.IPAddress)

	return &AuthResult{
		AccessToken:           accessToken,
		RefreshToken:          secret,
		ExpiresIn:             int(s.issuer.Validity().Seconds()),
		RefreshTokenExpiresIn: int(validity.Seconds()),
		TokenType:             TokenType,
		User:                  user,
	}, nil
}

// Register creates an account with the default role and logs it straight in.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, meta RequestMeta) (*AuthResult, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	usersRepo := s.repos.Users(s.db)

	if _, err := usersRepo.GetByUsername(ctx, req.Username); err == nil {
		return nil, common.BadRequestf("username already exists")
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, common.Internalf("registration failed").WithCause(err)
	}
	if _, err := usersRepo.GetByEmail(ctx, req.Email); err == nil {
		return nil, common.BadRequestf("email already exists")
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, common.Internalf("registration failed").WithCause(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, common.Internalf("registration failed").WithCause(err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: string(hash),
		Roles:        []string{defaultRole},
		IsActive:     true,
		CreatedDate:  s.now(),
	}
	if err := usersRepo.Create(ctx, user); err != nil {
		return nil, common.Internalf("registration failed").WithCause(err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID, "username", user.Username)

	return s.Login(ctx, req.Username, req.Password, false, meta)
}

// Refresh rotates a refresh token: it validates the presented pair, marks
// the old token used, and mints a successor that inherits the family and its
// absolute expiry. Presenting an already-used token revokes the entire
// family before failing; that single rule bounds the blast radius of a
// stolen refresh token to one extra use.
func (s *AuthService) Refresh(ctx context.Context, accessToken, refreshToken string, meta RequestMeta) (*AuthResult, error) {
	claims, err := s.issuer.DecodeExpired(accessToken)
	if err != nil {
		return nil, err
	}
	callerUserID := claims.Subject

	tokensRepo := s.repos.RefreshTokens(s.db)

	stored, err := tokensRepo.GetByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "refresh failed: token not found", "user_id", callerUserID)
			return nil, common.Unauthorizedf("invalid refresh token")
		}
		return nil, common.Internalf("refresh failed").WithCause(err)
	}

	if stored.UserID != callerUserID {
		s.logger.Warn(ctx, "refresh failed: token user mismatch",
			"token_user_id", stored.UserID, "caller_user_id", callerUserID)
		return nil, common.Unauthorizedf("token user mismatch")
	}

	now := s.now()

	if stored.IsUsed {
		return nil, s.handleReuse(ctx, stored, now)
	}

	if stored.IsRevoked {
		return nil, common.Unauthorizedf("refresh token has been revoked")
	}
	if !stored.ExpiryDate.After(now) {
		return nil, common.Unauthorizedf("refresh token expired")
	}
	if stored.JwtID != claims.ID {
		s.logger.Warn(ctx, "refresh failed: jti mismatch", "user_id", callerUserID)
		return nil, common.Unauthorizedf("token mismatch")
	}

	// IP drift is expected (mobile networks, VPNs): observe, never block.
	if stored.IPAddress != "" && stored.IPAddress != meta.IPAddress {
		s.logger.Warn(ctx, "ip address changed between rotations",
			"user_id", callerUserID, "old_ip", stored.IPAddress, "new_ip", meta.IPAddress)
	}

	user, err := s.repos.Users(s.db).GetByID(ctx, stored.UserID)
	if err != nil {
		return nil, common.Internalf("refresh failed").WithCause(err)
	}

	newAccess, newJTI, err := s.issuer.Issue(user.ID, user.Username, user.Email, user.Roles)
	if err != nil {
		return nil, common.Internalf("refresh failed").WithCause(err)
	}
	secret, err := common.GenerateRefreshSecret()
	if err != nil {
		return nil, common.Internalf("refresh failed").WithCause(err)
	}

	successor := &models.RefreshToken{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Token:         secret,
		JwtID:         newJTI,
		FamilyID:      stored.FamilyID,
		ParentTokenID: stored.ID,
		GeneratedBy:   models.GeneratedByRotation,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		DeviceName:    deviceName(meta.UserAgent),
		CreatedDate:   now,
		// The family ceiling is inherited verbatim: rotation never
		// extends a session past its original lifetime.
		ExpiryDate: stored.ExpiryDate,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		tokensTx := s.repos.RefreshTokens(tx)
		// conditional flip: of two racing rotations exactly one sees a row
		// affected here, the other is rolled back
		used, err := tokensTx.MarkUsed(ctx, stored.ID, now)
		if err != nil {
			return err
		}
		if !used {
			return errAlreadyRotated
		}
		return tokensTx.Insert(ctx, successor)
	})
	if errors.Is(err, errAlreadyRotated) {
		// lost the race: re-read the winner's UsedDate and take the
		// reuse path like any other replay
		current, rerr := tokensRepo.GetByToken(ctx, refreshToken)
		if rerr != nil {
			return nil, common.Internalf("refresh failed").WithCause(rerr)
		}
		return nil, s.handleReuse(ctx, current, s.now())
	}
	if err != nil {
		return nil, common.Internalf("refresh failed").WithCause(err)
	}

	s.logger.Info(ctx, "token refreshed", "user_id", user.ID, "family_id", stored.FamilyID)

	return &AuthResult{
		AccessToken:           newAccess,
		RefreshToken:          secret,
		ExpiresIn:             int(s.issuer.Validity().Seconds()),
		RefreshTokenExpiresIn: int(stored.ExpiryDate.Sub(now).Seconds()),
		TokenType:             TokenType,
		User:                  user,
	}, nil
}

// Logout revokes refresh tokens for the caller at the requested scope:
// exactly the presented token, its whole family, or every token the user
// owns. Revocation is idempotent; already-revoked tokens are left untouched.
func (s *AuthService) Logout(ctx context.Context, callerUserID, refreshToken string, scope models.LogoutScope) error {
	if scope == "" {
		scope = models.ScopeCurrentBrowser
	}

	tokensRepo := s.repos.RefreshTokens(s.db)
	now := s.now()

	var toRevoke []*models.RefreshToken

	switch scope {
	case models.ScopeCurrentSession, models.ScopeCurrentBrowser:
		if refreshToken == "" {
			return nil
		}
		current, err := tokensRepo.GetByToken(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil
			}
			return common.Internalf("logout failed").WithCause(err)
		}
		if current.UserID != callerUserID {
			return nil
		}
		if scope == models.ScopeCurrentSession {
			if !current.IsRevoked {
				toRevoke = append(toRevoke, current)
			}
		} else {
			family, err := tokensRepo.GetNonRevokedByFamily(ctx, current.FamilyID)
			if err != nil {
				return common.Internalf("logout failed").WithCause(err)
			}
			toRevoke = family
		}

	case models.ScopeAllDevices:
		all, err := tokensRepo.GetNonRevokedByUser(ctx, callerUserID)
		if err != nil {
			return common.Internalf("logout failed").WithCause(err)
		}
		toRevoke = all

	default:
		return common.BadRequestf("unknown logout scope: %s", scope)
	}

	if len(toRevoke) == 0 {
		return nil
	}
	for _, t := range toRevoke {
		s.revoke(t, now)
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.RefreshTokens(tx).UpdateAll(ctx, toRevoke)
	})
	if err != nil {
		return common.Internalf("logout failed").WithCause(err)
	}

	s.logger.Info(ctx, "user logged out", "user_id", callerUserID,
		"scope", string(scope), "revoked", len(toRevoke))
	return nil
}

// RevokeSession revokes one refresh token by id on behalf of its owner.
// The lookup is keyed by (id, callerUserID), so another user's session id
// yields NotFound rather than leaking existence.
func (s *AuthService) RevokeSession(ctx context.Context, sessionID, callerUserID string) error {
	tokensRepo := s.repos.RefreshTokens(s.db)

	token, err := tokensRepo.GetByIDAndUser(ctx, sessionID, callerUserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFoundf("session not found")
		}
		return common.Internalf("revoke failed").WithCause(err)
	}
	if token.IsRevoked {
		return nil
	}

	s.revoke(token, s.now())
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.RefreshTokens(tx).Update(ctx, token)
	})
	if err != nil {
		return common.Internalf("revoke failed").WithCause(err)
	}

	s.logger.Info(ctx, "session revoked", "user_id", callerUserID, "token_id", token.ID)
	return nil
}

// ActiveSessions lists the caller's live sessions: one entry per lineage
// leaf, with the caller's own session flagged via the jti of the access
// token used to make the call.
func (s *AuthService) ActiveSessions(ctx context.Context, callerUserID, callerJTI string) ([]*models.Session, error) {
	tokens, err := s.repos.RefreshTokens(s.db).GetActiveByUser(ctx, callerUserID, s.now())
	if err != nil {
		return nil, common.Internalf("session listing failed").WithCause(err)
	}

	sessions := make([]*models.Session, 0, len(tokens))
	for _, t := range tokens {
		if t.IsUsed {
			// Redeemed ancestors stay in storage for audit but are not
			// sessions anymore; the leaf of the chain represents one.
			continue
		}
		sessions = append(sessions, &models.Session{
			ID:         t.ID,
			DeviceName: t.DeviceName,
			IPAddress:  t.IPAddress,
			LastActive: t.CreatedDate,
			IsCurrent:  t.JwtID == callerJTI,
			ExpiryDate: t.ExpiryDate,
		})
	}
	return sessions, nil
}

// ChangePassword verifies the current password, installs the new hash, and
// force-logs-out every device: the old password is no longer a trust anchor
// for any outstanding session.
func (s *AuthService) ChangePassword(ctx context.Context, callerUserID, currentPassword, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return common.BadRequestf("password change failed: new password must be at least %d characters", minPasswordLen)
	}

	usersRepo := s.repos.Users(s.db)
	user, err := usersRepo.GetByID(ctx, callerUserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFoundf("user not found")
		}
		return common.Internalf("password change failed").WithCause(err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return common.BadRequestf("password change failed: current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return common.Internalf("password change failed").WithCause(err)
	}
	user.PasswordHash = string(hash)

	if err := usersRepo.Update(ctx, user); err != nil {
		return common.Internalf("password change failed").WithCause(err)
	}

	if err := s.Logout(ctx, callerUserID, "", models.ScopeAllDevices); err != nil {
		return err
	}

	s.logger.Info(ctx, "password changed", "user_id", callerUserID)
	return nil
}

// IsUsernameAvailable reports whether no account holds the username.
func (s *AuthService) IsUsernameAvailable(ctx context.Context, username string) (bool, error) {
	if strings.TrimSpace(username) == "" {
		return false, nil
	}
	_, err := s.repos.Users(s.db).GetByUsername(ctx, username)
	if errors.Is(err, common.ErrorNotFound) {
		return true, nil
	}
	if err != nil {
		return false, common.Internalf("lookup failed").WithCause(err)
	}
	return false, nil
}

// IsEmailAvailable reports whether no account holds the email.
func (s *AuthService) IsEmailAvailable(ctx context.Context, email string) (bool, error) {
	if strings.TrimSpace(email) == "" {
		return false, nil
	}
	_, err := s.repos.Users(s.db).GetByEmail(ctx, email)
	if errors.Is(err, common.ErrorNotFound) {
		return true, nil
	}
	if err != nil {
		return false, common.Internalf("lookup failed").WithCause(err)
	}
	return false, nil
}

// --- helpers below ---

func (s *AuthService) revoke(t *models.RefreshToken, now time.Time) {
	if t.IsRevoked {
		return
	}
	t.IsRevoked = true
	t.RevokedDate = &now
}

// handleReuse decides what a spent refresh token costs the presenter.
// Inside the grace window it is treated as a lost rotation race and fails
// alone; outside it is treated as theft and the whole family is revoked.
func (s *AuthService) handleReuse(ctx context.Context, stored *models.RefreshToken, now time.Time) error {
	if s.reuseGrace > 0 && stored.UsedDate != nil && now.Sub(*stored.UsedDate) <= s.reuseGrace {
		s.logger.Warn(ctx, "refresh lost a concurrent rotation race",
			"user_id", stored.UserID, "token_id", stored.ID)
		return common.Unauthorizedf("refresh token already rotated")
	}

	s.logger.Warn(ctx, "refresh token reuse detected, revoking family",
		"user_id", stored.UserID, "token_id", stored.ID, "family_id", stored.FamilyID)
	if err := s.revokeFamily(ctx, stored.FamilyID, now); err != nil {
		return common.Internalf("refresh failed").WithCause(err)
	}
	return common.Unauthorizedf("potential security breach detected, all sessions have been revoked, please log in again")
}

// revokeFamily kills an entire lineage after reuse detection. The
// remediation happens here, inside the engine; callers only ever see the
// Unauthorized error that follows.
func (s *AuthService) revokeFamily(ctx context.Context, familyID string, now time.Time) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		tokensTx := s.repos.RefreshTokens(tx)
		family, err := tokensTx.GetNonRevokedByFamily(ctx, familyID)
		if err != nil {
			return err
		}
		for _, t := range family {
			s.revoke(t, now)
		}
		return tokensTx.UpdateAll(ctx, family)
	})
}

func (s *AuthService) registerFailedLogin(ctx context.Context, user *models.User, now time.Time) {
	user.FailedLoginCount++
	if user.FailedLoginCount >= maxFailedLogins {
		until := now.Add(lockoutDuration)
		user.LockoutUntil = &until
		user.FailedLoginCount = 0
		s.logger.Warn(ctx, "account locked after repeated failures", "user_id", user.ID)
	}
	if err := s.repos.Users(s.db).Update(ctx, user); err != nil {
		s.logger.Error(ctx, "failed to persist login failure", "user_id", user.ID, "error", err.Error())
	}
}

func validateRegistration(req RegisterRequest) error {
	if strings.TrimSpace(req.Username) == "" {
		return common.BadRequestf("username is required")
	}
	if !strings.Contains(req.Email, "@") {
		return common.BadRequestf("a valid email is required")
	}
	if len(req.Password) < minPasswordLen {
		return common.BadRequestf("password must be at least %d characters", minPasswordLen)
	}
	return nil
}

// deviceName derives a friendly session label from the user agent.
func deviceName(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	switch {
	case strings.Contains(userAgent, "Edg"):
		return "Edge Browser"
	case strings.Contains(userAgent, "Chrome"):
		return "Chrome Browser"
	case strings.Contains(userAgent, "Firefox"):
		return "Firefox Browser"
	case strings.Contains(userAgent, "Safari"):
		return "Safari Browser"
	default:
		return "Unknown Device"
	}
}
