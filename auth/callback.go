package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"room-chat/errors"
	"time"
)

const callbackPage = `<!doctype html><html><body><p>%s You can close this window.</p></body></html>`

type callbackResult struct {
	code string
	err  error
}

// CallbackServer is the loopback endpoint the identity provider redirects to.
type CallbackServer struct {
	listener net.Listener
	server   *http.Server
	url      *url.URL
	results  chan callbackResult
}

// ListenCallback binds the host of callbackURL. Port 0 picks a free port,
// reflected by URL.
func ListenCallback(callbackURL string) (*CallbackServer, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("parse callback url: %w", err)
	}
	listener, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", u.Host, err)
	}
	bound := *u
	bound.Host = listener.Addr().String()

	c := &CallbackServer{
		listener: listener,
		url:      &bound,
		results:  make(chan callbackResult, 1),
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, c.handle)
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = c.server.Serve(listener) }()
	return c, nil
}

// URL is the redirect target to hand to the provider.
func (c *CallbackServer) URL() string {
	return c.url.String()
}

func (c *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var result callbackResult
	switch {
	case query.Get("error") != "":
		result.err = fmt.Errorf("%w: %s: %s", errors.ErrOAuthCallback,
			query.Get("error"), query.Get("error_description"))
	case query.Get("code") == "":
		result.err = fmt.Errorf("%w: missing code", errors.ErrOAuthCallback)
	default:
		result.code = query.Get("code")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if result.err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, callbackPage, "Sign-in failed.")
	} else {
		_, _ = fmt.Fprintf(w, callbackPage, "Signed in.")
	}

	select {
	case c.results <- result:
	default:
	}
}

// Await blocks until the first redirect arrives or ctx is done.
func (c *CallbackServer) Await(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-c.results:
		return result.code, result.err
	}
}

func (c *CallbackServer) Close() error {
	return c.server.Close()
}
