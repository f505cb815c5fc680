// Package firebase talks to a Firebase Realtime Database over its REST API,
// authenticating the device as an anonymous user.
package firebase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Uranury/hommie-node/report"
)

const (
	DefaultIdentityURL    = "https://identitytoolkit.googleapis.com/v1"
	DefaultSecureTokenURL = "https://securetoken.googleapis.com/v1"
)

type Config struct {
	APIKey        string
	DatabaseURL   string
	RefreshMargin time.Duration
	Timeout       time.Duration

	// Overridable endpoints, mostly for tests.
	IdentityURL    string
	SecureTokenURL string
}

// Session is the authenticated connection to the realtime database.
// Authentication happens once; afterwards only the ID token is refreshed.
type Session struct {
	cfg    Config
	client *resty.Client
	logger *zap.SugaredLogger
	now    func() time.Time

	mu            sync.Mutex
	authenticated bool
	uid           string
	idToken       string
	refreshToken  string
	expiresAt     time.Time
}

func NewSession(cfg Config, logger *zap.SugaredLogger) *Session {
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = DefaultIdentityURL
	}
	if cfg.SecureTokenURL == "" {
		cfg.SecureTokenURL = DefaultSecureTokenURL
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = 5 * time.Minute
	}
	cfg.DatabaseURL = strings.TrimSuffix(cfg.DatabaseURL, "/")

	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &Session{
		cfg:    cfg,
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// SignUp registers a new anonymous user. A failure leaves the session
// unauthenticated for the rest of the process lifetime.
func (s *Session) SignUp(ctx context.Context) error {
	s.logger.Info("Sign up new user...")

	var out signUpResponse
	var apiErr identityError
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("key", s.cfg.APIKey).
		SetBody(map[string]any{"returnSecureToken": true}).
		SetResult(&out).
		SetError(&apiErr).
		Post(s.cfg.IdentityURL + "/accounts:signUp")
	if err != nil {
		s.logger.Errorw("Sign up failed", "reason", err)
		return fmt.Errorf("sign up: %w", err)
	}
	if resp.IsError() {
		e := &APIError{Status: resp.StatusCode(), Reason: identityReason(apiErr, resp)}
		s.logger.Errorw("Sign up failed", "reason", e.Reason)
		return e
	}

	ttl, err := parseExpiry(out.ExpiresIn)
	if err != nil {
		return fmt.Errorf("sign up: %w", err)
	}

	s.mu.Lock()
	s.authenticated = true
	s.uid = out.LocalID
	s.idToken = out.IDToken
	s.refreshToken = out.RefreshToken
	s.expiresAt = s.now().Add(ttl)
	s.mu.Unlock()

	s.logger.Infow("Sign up succeeded", "uid", out.LocalID, "expires_in", ttl)
	return nil
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

// Ready reports whether a usable ID token is held, refreshing it first when
// it is about to expire.
func (s *Session) Ready(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authenticated || s.idToken == "" {
		return false
	}
	if s.now().Add(s.cfg.RefreshMargin).Before(s.expiresAt) {
		return true
	}
	if err := s.refreshLocked(ctx); err != nil {
		s.logger.Warnw("Token refresh failed", "reason", err)
		return false
	}
	return true
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.refreshToken == "" {
		return fmt.Errorf("no refresh token")
	}

	var out refreshResponse
	var apiErr identityError
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("key", s.cfg.APIKey).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": s.refreshToken,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(s.cfg.SecureTokenURL + "/token")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Reason: identityReason(apiErr, resp)}
	}

	ttl, err := parseExpiry(out.ExpiresIn)
	if err != nil {
		return err
	}
	s.idToken = out.IDToken
	if out.RefreshToken != "" {
		s.refreshToken = out.RefreshToken
	}
	s.expiresAt = s.now().Add(ttl)
	s.logger.Debugw("Token refreshed", "expires_in", ttl)
	return nil
}

// Set replaces the node at path with v.
func (s *Session) Set(ctx context.Context, path string, v any) (*Result, error) {
	s.mu.Lock()
	token := s.idToken
	authenticated := s.authenticated
	s.mu.Unlock()
	if !authenticated {
		return nil, ErrNotAuthenticated
	}

	var apiErr databaseError
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Firebase-ETag", "true").
		SetQueryParam("auth", token).
		SetBody(v).
		SetError(&apiErr).
		Put(s.nodeURL(path))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		reason := apiErr.Error
		if reason == "" {
			reason = fallbackReason(resp)
		}
		return nil, &APIError{Status: resp.StatusCode(), Reason: reason}
	}

	return &Result{
		Path:     path,
		DataType: dataType(resp.Body()),
		ETag:     resp.Header().Get("ETag"),
		Value:    string(resp.Body()),
	}, nil
}

func (s *Session) Name() string {
	return "firebase"
}

// Write stores one report payload at path.
func (s *Session) Write(ctx context.Context, path string, p report.Payload) error {
	res, err := s.Set(ctx, path, p)
	if err != nil {
		return err
	}
	s.logger.Debugw("PASSED", "path", res.Path, "type", res.DataType, "etag", res.ETag, "value", res.Value)
	return nil
}

func (s *Session) nodeURL(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.cfg.DatabaseURL + "/" + strings.Join(segments, "/") + ".json"
}

func parseExpiry(v string) (time.Duration, error) {
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid token expiry %q: %w", v, err)
	}
	return time.Duration(secs) * time.Second, nil
}

func identityReason(e identityError, resp *resty.Response) string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return fallbackReason(resp)
}

func fallbackReason(resp *resty.Response) string {
	if body := strings.TrimSpace(string(resp.Body())); body != "" {
		return body
	}
	return resp.Status()
}

func dataType(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "unknown"
	}
	switch v.(type) {
	case map[string]any:
		return "json"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "double"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
