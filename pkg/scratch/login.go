package scratch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	errs "scratcharchive/pkg/errors"
	"scratcharchive/pkg/retry"
)

// Session holds the credentials minted by a login: the session cookie
// used by legacy site endpoints and the x-token used by the REST API.
type Session struct {
	Username  string
	SessionID string
	XToken    string
}

// Login exchanges a username and password for a Session. Login calls
// are never cached.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"username":    username,
		"password":    password,
		"useMessages": true,
	})
	if err != nil {
		return nil, errs.New(errs.ErrorTypeFatal, "encoding login payload: %v", err)
	}

	attempt := func() (*Session, error) {
		if err := c.limiter.Wait(ctx, "scratch.mit.edu"); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, siteBase+"/login/", bytes.NewReader(payload))
		if err != nil {
			return nil, errs.New(errs.ErrorTypeFatal, "building login request: %v", err)
		}
		for key, value := range c.headers {
			req.Header.Set(key, value)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-CSRFToken", "a")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		req.Header.Set("Cookie", "scratchcsrftoken=a;scratchlanguage=en;")
		req.Header.Set("Referer", siteBase+"/")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errs.New(errs.ErrorTypeNetwork, "login request failed: %v", err)
		}
		defer resp.Body.Close()
		c.countRequest()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			apiErr := errs.NewWithCode(statusErrorType(resp.StatusCode), resp.StatusCode,
				"login returned status %d", resp.StatusCode)
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			return nil, apiErr
		}

		var results []struct {
			Success int    `json:"success"`
			Msg     string `json:"msg"`
		}
		if err := json.Unmarshal(body, &results); err != nil || len(results) == 0 {
			return nil, errs.New(errs.ErrorTypeParsing, "unexpected login response")
		}
		if results[0].Success != 1 {
			return nil, errs.New(errs.ErrorTypeAuthMissing, "login rejected: %s", results[0].Msg)
		}

		sessionID := sessionCookie(resp.Header.Values("Set-Cookie"))
		if sessionID == "" {
			return nil, errs.New(errs.ErrorTypeAuthMissing, "login succeeded but no session cookie was set")
		}
		return &Session{Username: username, SessionID: sessionID}, nil
	}

	cfg := *c.retryCfg
	cfg.Context = ctx
	session, err := retry.DoWithResult(attempt, &cfg)
	if err != nil {
		return nil, err
	}

	session.XToken, err = c.XTokenFromSession(ctx, session.SessionID)
	if err != nil {
		return nil, err
	}
	c.logger.InfoWithFields("logged in", map[string]interface{}{"username": username})
	return session, nil
}

// XTokenFromSession resolves the REST API token for a session cookie.
// Tokens rotate server-side, so the call bypasses the cache.
func (c *Client) XTokenFromSession(ctx context.Context, sessionID string) (string, error) {
	headers := sessionHeaders(sessionID)
	headers["X-Requested-With"] = "XMLHttpRequest"

	data, err := c.fetch(ctx, siteBase+"/session/", requestOptions{headers: headers, shape: "json", noCache: true})
	if err != nil {
		return "", err
	}
	var session struct {
		User struct {
			Token string `json:"token"`
		} `json:"user"`
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return "", errs.New(errs.ErrorTypeParsing, "decoding session response: %v", err)
	}
	if session.User.Token == "" {
		return "", errs.New(errs.ErrorTypeAuthMissing, "session has no API token; the session id may have expired")
	}
	return session.User.Token, nil
}

// sessionCookie extracts the scratchsessionsid value from Set-Cookie
// headers.
func sessionCookie(cookies []string) string {
	for _, cookie := range cookies {
		for _, part := range strings.Split(cookie, ";") {
			part = strings.TrimSpace(part)
			if value, ok := strings.CutPrefix(part, "scratchsessionsid="); ok {
				return strings.Trim(value, `"`)
			}
		}
	}
	return ""
}
