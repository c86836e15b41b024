// Package session identifies returning visitors through a signed cookie.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/oklog/ulid/v2"
)

const (
	defaultCookieName = "storefront_session"
	defaultCookiePath = "/"
	defaultLifetime   = 30 * 24 * time.Hour
)

// ErrExpired indicates the cookie decoded but is past its absolute expiry.
var ErrExpired = errors.New("session expired")

// ErrInvalidConfig indicates the manager was initialised with missing or invalid options.
var ErrInvalidConfig = errors.New("session: invalid config")

// Data is the payload carried in the cookie.
type Data struct {
	VisitorID string    `json:"vid"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session is one visitor's decoded cookie for the current request.
type Session struct {
	data  Data
	fresh bool
}

// VisitorID returns the stable visitor identifier.
func (s *Session) VisitorID() string { return s.data.VisitorID }

// CreatedAt returns when the visitor was first seen.
func (s *Session) CreatedAt() time.Time { return s.data.CreatedAt }

// ExpiresAt returns the cookie's absolute expiry.
func (s *Session) ExpiresAt() time.Time { return s.data.ExpiresAt }

// Fresh reports whether the session was created during this request.
func (s *Session) Fresh() bool { return s.fresh }

// Config controls cookie encoding and lifetime.
type Config struct {
	CookieName     string
	HashKey        []byte
	BlockKey       []byte
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
	Lifetime       time.Duration
	Now            func() time.Time
	NewID          func() string
}

// Manager decodes and writes visitor cookies.
type Manager struct {
	cfg   Config
	codec *securecookie.SecureCookie
	now   func() time.Time
	newID func() string
}

// NewManager constructs a Manager using the provided configuration.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) == 0 {
		return nil, fmt.Errorf("%w: hash key is required", ErrInvalidConfig)
	}
	if n := len(cfg.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	codec := securecookie.New(cfg.HashKey, cfg.BlockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Lifetime / time.Second))

	return &Manager{cfg: cfg, codec: codec, now: nowFn, newID: newID}, nil
}

// Load returns the visitor's session, or a fresh one when the request carries
// no cookie or one that does not decode. An expired cookie yields ErrExpired.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return m.New(), nil
	}
	var stored Data
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil || stored.VisitorID == "" {
		return m.New(), nil
	}
	if !stored.ExpiresAt.IsZero() && m.now().UTC().After(stored.ExpiresAt) {
		return nil, ErrExpired
	}
	return &Session{data: stored}, nil
}

// New starts a session for a visitor not seen before.
func (m *Manager) New() *Session {
	now := m.now().UTC()
	return &Session{
		data: Data{
			VisitorID: m.newID(),
			CreatedAt: now,
			ExpiresAt: now.Add(m.cfg.Lifetime),
		},
		fresh: true,
	}
}

// NeedsRefresh reports whether the cookie should be rewritten: always for a
// fresh session, otherwise once less than half its lifetime remains.
func (m *Manager) NeedsRefresh(sess *Session) bool {
	if sess == nil {
		return false
	}
	if sess.fresh {
		return true
	}
	return sess.data.ExpiresAt.Sub(m.now().UTC()) < m.cfg.Lifetime/2
}

// Save writes the session cookie, sliding its expiry forward.
func (m *Manager) Save(w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return errors.New("session: nil session")
	}
	now := m.now().UTC()
	sess.data.ExpiresAt = now.Add(m.cfg.Lifetime)

	encoded, err := m.codec.Encode(m.cfg.CookieName, sess.data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    encoded,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Expires:  sess.data.ExpiresAt,
		MaxAge:   int(m.cfg.Lifetime.Round(time.Second).Seconds()),
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: m.cfg.CookieSameSite,
	})
	return nil
}

// Destroy clears the cookie.
func (m *Manager) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: m.cfg.CookieSameSite,
	})
}
