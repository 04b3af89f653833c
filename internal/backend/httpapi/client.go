// Package httpapi is the REST client of the generation service.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"weave/internal/auth"
	"weave/internal/backend"
	"weave/internal/chat"
)

// Config configures the client. Zero values fall back to defaults.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RetryMax  int
	RateRPS   float64
	RateBurst int
	// Tokens enables bearer auth with refresh-on-401 when set.
	Tokens auth.TokenStore
	Logger *zap.Logger
}

// Client implements backend.Backend over HTTP.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	auth    *auth.Session
	log     *zap.Logger
}

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// New builds a client. Transient failures (connection errors, 429, and 5xx
// on idempotent methods) are retried by the transport with backoff.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	log := cfg.Logger.Named("httpapi")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "weave/1.0").
		SetHeader("Accept", "application/json")
	restyClient.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		log.Debug("request",
			zap.String("method", r.Request.Method),
			zap.String("path", r.Request.URL),
			zap.Int("status", r.StatusCode()),
			zap.Duration("elapsed", r.Time()),
		)
		return nil
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateRPS) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), burst)
	}

	c := &Client{http: restyClient, limiter: limiter, log: log}
	if cfg.Tokens != nil {
		c.auth = auth.NewSession(cfg.Tokens, restyClient, cfg.Logger)
	}
	return c
}

// Auth returns the token session, or nil when the client is anonymous.
func (c *Client) Auth() *auth.Session { return c.auth }

type noResendKey struct{}

// checkRetry keeps the default policy but never resends a POST once it may
// have reached the server: a 5xx answer or a transport error after the
// request went out could mean the job was already accepted. A 429 is still
// retried, the server refused the request outright.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Value(noResendKey{}) != nil && ctx.Err() == nil {
		if err != nil || (resp != nil && resp.StatusCode >= 500) {
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) send(ctx context.Context, method, path, token string, body, result any) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if method == http.MethodPost {
		ctx = context.WithValue(ctx, noResendKey{}, true)
	}
	req := c.http.R().SetContext(ctx).SetError(&errorBody{})
	if token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	return req.Execute(method, path)
}

// do issues one call. A 401 triggers one token refresh and one retry; a
// second 401 signs the user out.
func (c *Client) do(ctx context.Context, op, method, path string, body, result any) error {
	token := ""
	if c.auth != nil {
		token = c.auth.AccessToken()
	}
	resp, err := c.send(ctx, method, path, token, body, result)
	if err != nil {
		return &chat.NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		if c.auth == nil {
			return &chat.AuthError{Reason: "server requires credentials"}
		}
		fresh, err := c.auth.Refresh(ctx, token)
		if err != nil {
			return err
		}
		resp, err = c.send(ctx, method, path, fresh, body, result)
		if err != nil {
			return &chat.NetworkError{Op: op, Err: err}
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			if err := c.auth.SignOut(); err != nil {
				c.log.Warn("clear credentials", zap.Error(err))
			}
			return &chat.AuthError{Reason: "session expired, please sign in again"}
		}
	}
	if resp.IsError() {
		return statusError(op, resp)
	}
	return nil
}

func statusError(op string, resp *resty.Response) error {
	detail := http.StatusText(resp.StatusCode())
	if eb, ok := resp.Error().(*errorBody); ok && eb != nil {
		switch {
		case eb.Detail != "":
			detail = eb.Detail
		case eb.Error != "":
			detail = eb.Error
		}
	}
	var cause error
	switch resp.StatusCode() {
	case http.StatusNotFound:
		cause = fmt.Errorf("%w: %s", chat.ErrNotFound, detail)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &chat.ValidationError{Field: "request", Reason: detail}
	case http.StatusForbidden:
		return &chat.AuthError{Reason: detail}
	default:
		cause = errors.New(detail)
	}
	return &chat.NetworkError{Op: op, Status: resp.StatusCode(), Err: cause}
}

func (c *Client) ListSessions(ctx context.Context) ([]chat.Session, error) {
	var out []chat.Session
	if err := c.do(ctx, "list sessions", http.MethodGet, backend.PathSessions, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (chat.Session, error) {
	var out chat.Session
	if err := c.do(ctx, "get session", http.MethodGet, backend.SessionPath(id), nil, &out); err != nil {
		return chat.Session{}, err
	}
	out.Hydrated = true
	return out, nil
}

func (c *Client) CreateSession(ctx context.Context, req backend.CreateSessionRequest) (chat.Session, error) {
	if !req.Kind.Valid() {
		return chat.Session{}, chat.Validationf("kind", "unknown session kind")
	}
	var out chat.Session
	if err := c.do(ctx, "create session", http.MethodPost, backend.PathSessions, req, &out); err != nil {
		return chat.Session{}, err
	}
	out.Hydrated = true
	return out, nil
}

func (c *Client) PatchSession(ctx context.Context, id string, p chat.Patch) (chat.Session, error) {
	var out chat.Session
	if err := c.do(ctx, "patch session", http.MethodPatch, backend.SessionPath(id), backend.EncodePatch(p), &out); err != nil {
		return chat.Session{}, err
	}
	out.Hydrated = true
	return out, nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, "delete session", http.MethodDelete, backend.SessionPath(id), nil, nil)
}

func (c *Client) SubmitChat(ctx context.Context, req backend.ChatRequest) (chat.Job, error) {
	var out backend.SubmitResponse
	if err := c.do(ctx, "submit chat", http.MethodPost, backend.PathChat, req, &out); err != nil {
		return chat.Job{}, err
	}
	return chat.Job{TaskID: out.TaskID, JobID: out.JobID, SessionID: req.SessionID, MessageID: out.MessageID, Kind: chat.KindChat}, nil
}

func (c *Client) SubmitImage(ctx context.Context, req backend.ImageRequest) (chat.Job, error) {
	var out backend.SubmitResponse
	if err := c.do(ctx, "submit image", http.MethodPost, backend.PathImage, req, &out); err != nil {
		return chat.Job{}, err
	}
	return chat.Job{TaskID: out.TaskID, JobID: out.JobID, SessionID: req.SessionID, MessageID: out.MessageID, Kind: chat.KindImage}, nil
}

func (c *Client) PollJob(ctx context.Context, taskID string) (chat.JobState, error) {
	var out chat.JobState
	if err := c.do(ctx, "poll job", http.MethodGet, backend.JobPath(taskID), nil, &out); err != nil {
		return chat.JobState{}, err
	}
	if out.TaskID == "" {
		out.TaskID = taskID
	}
	return out, nil
}

func (c *Client) ListFolders(ctx context.Context) ([]chat.Folder, error) {
	var out []chat.Folder
	if err := c.do(ctx, "list folders", http.MethodGet, backend.PathFolders, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateFolder(ctx context.Context, name string, typ chat.FolderType) (chat.Folder, error) {
	var out chat.Folder
	body := backend.CreateFolderRequest{Name: name, Type: typ}
	if err := c.do(ctx, "create folder", http.MethodPost, backend.PathFolders, body, &out); err != nil {
		return chat.Folder{}, err
	}
	return out, nil
}

func (c *Client) DeleteFolder(ctx context.Context, id string) error {
	return c.do(ctx, "delete folder", http.MethodDelete, backend.FolderPath(id), nil, nil)
}

var _ backend.Backend = (*Client)(nil)
