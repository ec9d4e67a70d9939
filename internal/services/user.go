package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gncyclemart/shop-api/internal/auth"
	"github.com/gncyclemart/shop-api/internal/db"
	"github.com/gncyclemart/shop-api/internal/mail"
	"github.com/gncyclemart/shop-api/internal/metrics"
	"github.com/gncyclemart/shop-api/internal/models"
)

const userColumns = "id, name, email, password_hash, google_id, google_image, is_admin, is_super_admin, active, first_login, created_at, updated_at"

// UserService handles user-related operations
type UserService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	tokens  *auth.Tokens
	mailer  mail.Mailer
}

var _ auth.UserLookup = (*UserService)(nil)

// NewUserService creates a new user service
func NewUserService(db *db.DB, metrics *metrics.AppMetrics, tokens *auth.Tokens, mailer mail.Mailer) *UserService {
	return &UserService{
		db:      db,
		metrics: metrics,
		tokens:  tokens,
		mailer:  mailer,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func scanUser(r rowScanner) (models.User, error) {
	var u models.User
	var passwordHash, googleID, googleImage sql.NullString
	err := r.Scan(&u.ID, &u.Name, &u.Email, &passwordHash, &googleID, &googleImage,
		&u.IsAdmin, &u.IsSuperAdmin, &u.Active, &u.FirstLogin, &u.CreatedAt, &u.UpdatedAt)
	u.PasswordHash = passwordHash.String
	u.GoogleID = googleID.String
	u.GoogleImage = googleImage.String
	return u, err
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, "id", id)
}

// GetUserByEmail returns a user by email address
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, "email", normalizeEmail(email))
}

// findUser looks a user up by a unique column; column is never user input.
func (s *UserService) findUser(ctx context.Context, column, value string) (*models.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE " + column + " = ?"
	start := time.Now()
	u, err := scanUser(s.db.QueryRowContext(ctx, query, value))
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *UserService) insertUser(ctx context.Context, u *models.User) error {
	query := "INSERT INTO users (" + userColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, nullString(u.PasswordHash), nullString(u.GoogleID),
		nullString(u.GoogleImage), u.IsAdmin, u.IsSuperAdmin, u.Active, u.FirstLogin, u.CreatedAt, u.UpdatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		if db.IsDuplicate(err) {
			return fmt.Errorf("%w: we already have an account with that email address", models.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *UserService) respond(u *models.User) (*models.AuthResponse, error) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &models.AuthResponse{User: *u, Token: token}, nil
}

// sendVerification mails an activation link. Delivery failures do not undo
// the registration.
func (s *UserService) sendVerification(ctx context.Context, u *models.User, token string) {
	if err := s.mailer.SendVerification(ctx, u.Email, u.Name, token); err != nil {
		zap.S().Errorw("failed to send verification email", "user_id", u.ID, "error", err)
	}
}

// Register creates a local account and mails a verification link.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	ts := now()
	u := &models.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		FirstLogin:   true,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if err := s.insertUser(ctx, u); err != nil {
		return nil, err
	}

	resp, err := s.respond(u)
	if err != nil {
		return nil, err
	}
	s.sendVerification(ctx, u, resp.Token)
	zap.S().Infow("user registered", "user_id", u.ID)
	return resp, nil
}

// Login checks an email/password pair. The first successful login clears
// firstLogin.
func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	u, err := s.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		return nil, models.ErrInvalidCredentials
	}

	if err := s.markLoggedIn(ctx, u); err != nil {
		return nil, err
	}
	return s.respond(u)
}

func (s *UserService) markLoggedIn(ctx context.Context, u *models.User) error {
	if !u.FirstLogin {
		return nil
	}
	ts := now()
	if err := s.exec(ctx, "UPDATE", "UPDATE users SET first_login = ?, updated_at = ? WHERE id = ?", false, ts, u.ID); err != nil {
		return err
	}
	u.FirstLogin = false
	u.UpdatedAt = ts
	return nil
}

// GoogleLogin signs in the account linked to a Google id, creating it on
// first use. An email that already belongs to another account is a conflict.
//
// The Google id is taken as sent by the web client; no Google ID token is
// verified here. TODO: accept the credential JWT from Google Identity
// Services and check it against GoogleWebClientID before trusting GoogleID.
func (s *UserService) GoogleLogin(ctx context.Context, req models.GoogleLoginRequest) (*models.AuthResponse, error) {
	u, err := s.findUser(ctx, "google_id", req.GoogleID)
	if err == nil {
		if err := s.markLoggedIn(ctx, u); err != nil {
			return nil, err
		}
		return s.respond(u)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	ts := now()
	u = &models.User{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Email:       normalizeEmail(req.Email),
		GoogleID:    req.GoogleID,
		GoogleImage: req.GoogleImage,
		FirstLogin:  true,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := s.insertUser(ctx, u); err != nil {
		return nil, err
	}

	resp, err := s.respond(u)
	if err != nil {
		return nil, err
	}
	s.sendVerification(ctx, u, resp.Token)
	zap.S().Infow("user registered with google", "user_id", u.ID)
	return resp, nil
}

// VerifyEmail activates the caller's account.
func (s *UserService) VerifyEmail(ctx context.Context, actor *auth.Principal) error {
	if actor == nil {
		return auth.ErrUnauthenticated
	}
	return s.execOne(ctx, "UPDATE users SET active = ?, updated_at = ? WHERE id = ?", true, now(), actor.UserID)
}

// RequestPasswordReset mails a reset link to the account holder.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: there is no account with such an email address", models.ErrNotFound)
		}
		return err
	}

	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	return s.mailer.SendPasswordReset(ctx, u.Email, u.Name, token)
}

// ResetPassword replaces the caller's password.
func (s *UserService) ResetPassword(ctx context.Context, actor *auth.Principal, password string) error {
	if actor == nil {
		return auth.ErrUnauthenticated
	}
	if len(password) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", models.ErrValidation)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.execOne(ctx, "UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?", hash, now(), actor.UserID)
}

// ListUsers returns every account, oldest first.
func (s *UserService) ListUsers(ctx context.Context, actor *auth.Principal) ([]models.User, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}

	query := "SELECT " + userColumns + " FROM users ORDER BY created_at, id"
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes any account. Admin only.
func (s *UserService) DeleteUser(ctx context.Context, actor *auth.Principal, id string) error {
	if err := auth.RequireAdmin(actor); err != nil {
		return err
	}
	return s.deleteUser(ctx, actor, id)
}

// DeleteAccount removes the caller's own account; admins may remove any.
func (s *UserService) DeleteAccount(ctx context.Context, actor *auth.Principal, id string) error {
	if actor == nil {
		return auth.ErrUnauthenticated
	}
	if actor.UserID != id {
		if err := auth.RequireAdmin(actor); err != nil {
			return err
		}
	}
	return s.deleteUser(ctx, actor, id)
}

func (s *UserService) deleteUser(ctx context.Context, actor *auth.Principal, id string) error {
	if err := s.execOne(ctx, "DELETE FROM users WHERE id = ?", id); err != nil {
		return err
	}
	zap.S().Infow("user deleted", "user_id", id, "by", actor.UserID)
	return nil
}

// SetAdmin grants or revokes admin rights by email.
func (s *UserService) SetAdmin(ctx context.Context, email string, admin bool) error {
	return s.execOne(ctx, "UPDATE users SET is_admin = ?, updated_at = ? WHERE email = ?", admin, now(), normalizeEmail(email))
}

func (s *UserService) exec(ctx context.Context, op, query string, args ...interface{}) error {
	_, err := s.execResult(ctx, op, query, args...)
	return err
}

// execOne runs a write that must match exactly one user.
func (s *UserService) execOne(ctx context.Context, query string, args ...interface{}) error {
	op := strings.Fields(query)[0]
	affected, err := s.execResult(ctx, op, query, args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("user: %w", models.ErrNotFound)
	}
	return nil
}

func (s *UserService) execResult(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, op, "users", query, start, err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to %s user: %w", strings.ToLower(op), err)
	}
	return result.RowsAffected()
}
