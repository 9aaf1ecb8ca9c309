package identity

import (
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// CookieSessions implements Authenticator and LocalSessions with a signed JWT
// cookie (HS256, keyed by the installation key). The hub uses it for the main
// domain's session; the site service uses it for the tenant-domain durable
// session minted after bearer resolution.
type CookieSessions struct {
	name   string
	key    []byte
	secure bool
}

func NewCookieSessions(name string, key []byte, secure bool) *CookieSessions {
	return &CookieSessions{name: name, key: key, secure: secure}
}

// Name returns the cookie name sessions are stored under.
func (c *CookieSessions) Name() string { return c.name }

func (c *CookieSessions) CurrentUser(r *http.Request) (User, bool) {
	ck, err := r.Cookie(c.name)
	if err != nil || ck.Value == "" {
		return User{}, false
	}
	tok, err := jwt.Parse([]byte(ck.Value),
		jwt.WithKey(jwa.HS256, c.key),
		jwt.WithValidate(true),
	)
	if err != nil {
		return User{}, false
	}
	u := User{ID: tok.Subject()}
	if v, ok := tok.Get("login"); ok {
		u.Login, _ = v.(string)
	}
	if u.ID == "" {
		return User{}, false
	}
	return u, true
}

func (c *CookieSessions) Create(w http.ResponseWriter, u User, ttl time.Duration) error {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(u.ID).
		Claim("login", u.Login).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, c.key))
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    string(signed),
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl / time.Second),
	})
	return nil
}

func (c *CookieSessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: c.name, Value: "", Path: "/", MaxAge: -1})
}
