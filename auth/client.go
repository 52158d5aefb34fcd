// Package auth is a client for a GoTrue-compatible identity service:
// OAuth sign-in with PKCE through a loopback redirect, sign-out, and
// auth-state notifications. Tokens are never verified or refreshed locally.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"room-chat/contract"
	"room-chat/domain"
	"room-chat/errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

type Config struct {
	URL         string `validate:"required,url"`
	AnonKey     string `validate:"required"`
	CallbackURL string `validate:"required,url"`
}

// Opener presents the authorize URL to the user, e.g. by printing it.
type Opener func(authorizeURL string) error

type Client struct {
	log    *slog.Logger
	config Config
	http   *http.Client
	store  contract.ISessionStore
	opener Opener
	now    func() time.Time

	mu        sync.Mutex
	listeners map[uint64]contract.AuthStateListener
	nextID    uint64

	// deliver serializes notifications so INITIAL_SESSION never lands
	// after a later event. notified counts events delivered so far.
	deliver  sync.Mutex
	notified uint64
}

func NewClient(log *slog.Logger, config Config, store contract.ISessionStore, opener Opener) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}
	config.URL = strings.TrimSuffix(config.URL, "/")
	return &Client{
		log:       log,
		config:    config,
		http:      &http.Client{Timeout: 30 * time.Second},
		store:     store,
		opener:    opener,
		now:       time.Now,
		listeners: make(map[uint64]contract.AuthStateListener),
	}, nil
}

// GetSession returns the persisted session, or nil when there is none or it expired.
func (c *Client) GetSession(_ context.Context) (*domain.Session, error) {
	session, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	if sessionExpired(session, c.now()) {
		c.log.Info("Sign in again", "error", errors.ErrSessionExpired)
		return nil, nil
	}
	return session, nil
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// OnAuthStateChange registers listener. It first receives INITIAL_SESSION
// asynchronously, then every sign-in and sign-out. INITIAL_SESSION is
// skipped when another event reached the listener first.
func (c *Client) OnAuthStateChange(listener contract.AuthStateListener) contract.Subscription {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = listener
	seen := c.notified
	c.mu.Unlock()

	go func() {
		c.deliver.Lock()
		defer c.deliver.Unlock()
		session, err := c.GetSession(context.Background())
		if err != nil {
			c.log.Debug("Initial session unavailable", "error", err)
		}
		c.mu.Lock()
		_, active := c.listeners[id]
		superseded := c.notified != seen
		c.mu.Unlock()
		if superseded {
			c.log.Debug("Initial session superseded", "listener", id)
			return
		}
		if active {
			listener(domain.InitialSession, session)
		}
	}()

	return &subscription{cancel: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}}
}

// notify must not be called from a listener.
func (c *Client) notify(evt domain.AuthEvent, session *domain.Session) {
	c.deliver.Lock()
	defer c.deliver.Unlock()

	c.mu.Lock()
	c.notified++
	listeners := make([]contract.AuthStateListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	c.log.Debug("Auth state changed", "event", evt)
	for _, l := range listeners {
		l(evt, session)
	}
}

// SignInWithOAuth runs the PKCE flow: open the provider page, wait for the
// redirect on the loopback callback, then exchange the code for a session.
func (c *Client) SignInWithOAuth(ctx context.Context, provider string) error {
	if err := ValidateProvider(provider); err != nil {
		return err
	}

	callback, err := ListenCallback(c.config.CallbackURL)
	if err != nil {
		return err
	}
	defer func() { _ = callback.Close() }()

	verifier := oauth2.GenerateVerifier()
	authorizeURL := c.authorizeURL(provider, callback.URL(), verifier)
	if err := c.opener(authorizeURL); err != nil {
		return fmt.Errorf("open authorize url: %w", err)
	}

	code, err := callback.Await(ctx)
	if err != nil {
		return err
	}

	session, err := c.exchangeCode(ctx, code, verifier)
	if err != nil {
		return err
	}
	if err := c.store.Save(session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.log.Info("Signed in", "user_id", session.User.ID)
	c.notify(domain.SignedIn, session)
	return nil
}

func (c *Client) authorizeURL(provider, redirectTo, verifier string) string {
	query := url.Values{}
	query.Set("provider", provider)
	query.Set("redirect_to", redirectTo)
	query.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	query.Set("code_challenge_method", "s256")
	return c.config.URL + "/auth/v1/authorize?" + query.Encode()
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (e errorBody) String() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Error} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}

func (c *Client) exchangeCode(ctx context.Context, code, verifier string) (*domain.Session, error) {
	body, err := json.Marshal(map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.URL+"/auth/v1/token?grant_type=pkce", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.config.AnonKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrTokenExchange, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrTokenExchange, err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorBody
		_ = json.Unmarshal(raw, &e)
		return nil, fmt.Errorf("%w: %d %s", errors.ErrTokenExchange, resp.StatusCode, e)
	}

	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrTokenExchange, err)
	}
	if session.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", errors.ErrTokenExchange)
	}
	completeSession(&session, c.now())
	return &session, nil
}

// SignOut revokes the session on the server and always clears it locally.
// The logout error, if any, is returned after listeners were notified.
func (c *Client) SignOut(ctx context.Context) error {
	session, err := c.store.Load()
	if err != nil {
		c.log.Warn("Could not load session before sign-out", "error", err)
	}

	var logoutErr error
	if session != nil {
		logoutErr = c.logout(ctx, session)
	}
	if err := c.store.Delete(); err != nil {
		return err
	}
	c.notify(domain.SignedOut, nil)
	return logoutErr
}

func (c *Client) logout(ctx context.Context, session *domain.Session) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: session.AccessToken,
		TokenType:   session.TokenType,
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL+"/auth/v1/logout?scope=global", nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.config.AnonKey)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusUnauthorized, http.StatusNotFound:
		// 401/404: the session is already gone server side
		return nil
	default:
		var e errorBody
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("logout: %d %s", resp.StatusCode, e)
	}
}
