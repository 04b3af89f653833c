package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"weave/internal/chat"
)

// RefreshPath is the token refresh endpoint, relative to the API base URL.
const RefreshPath = "/api/v1/auth/token/refresh/"

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Session 持有令牌并负责刷新
// Session hands out the current access token and refreshes it on demand
type Session struct {
	store TokenStore
	http  *resty.Client
	log   *zap.Logger

	// mu serializes refreshes so concurrent 401s trigger one refresh call
	mu sync.Mutex
}

// NewSession creates a token session. client must carry the API base URL.
func NewSession(store TokenStore, client *resty.Client, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{store: store, http: client, log: log.Named("auth")}
}

// AccessToken returns the stored access token, or "" when signed out.
func (s *Session) AccessToken() string {
	c, err := s.store.Load()
	if err != nil {
		s.log.Warn("load credentials", zap.Error(err))
		return ""
	}
	return c.Access
}

// SignedIn reports whether any token is stored.
func (s *Session) SignedIn() bool {
	c, err := s.store.Load()
	return err == nil && !c.Empty()
}

// SignIn stores a token pair obtained out of band.
func (s *Session) SignIn(c Credentials) error {
	if strings.TrimSpace(c.Access) == "" && strings.TrimSpace(c.Refresh) == "" {
		return chat.Validationf("token", "access or refresh token required")
	}
	return s.store.Save(c)
}

// SignOut clears stored credentials.
func (s *Session) SignOut() error {
	return s.store.Clear()
}

// Refresh exchanges the refresh token for a new access token. stale is the
// access token the failing request used; if another caller already replaced
// it, the current token is returned without a second refresh. Any failure
// clears the stored credentials and yields an AuthError.
func (s *Session) Refresh(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Load()
	if err != nil {
		return "", &chat.AuthError{Reason: err.Error()}
	}
	if c.Access != "" && c.Access != stale {
		return c.Access, nil
	}
	if c.Refresh == "" {
		_ = s.store.Clear()
		return "", &chat.AuthError{Reason: "no refresh token"}
	}

	var out refreshResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(refreshRequest{Refresh: c.Refresh}).
		SetResult(&out).
		Post(RefreshPath)
	if err == nil && resp.IsError() {
		err = errors.New(resp.Status())
	}
	if err == nil && out.Access == "" {
		err = errors.New("refresh response carried no access token")
	}
	if err != nil {
		s.log.Info("token refresh failed, clearing credentials", zap.Error(err))
		if cerr := s.store.Clear(); cerr != nil {
			s.log.Warn("clear credentials", zap.Error(cerr))
		}
		return "", &chat.AuthError{Reason: "session expired, please sign in again"}
	}

	next := Credentials{Access: out.Access, Refresh: c.Refresh}
	if out.Refresh != "" {
		next.Refresh = out.Refresh
	}
	if err := s.store.Save(next); err != nil {
		s.log.Warn("save refreshed credentials", zap.Error(err))
	}
	return next.Access, nil
}
