package session

import (
	"encoding/base64"
	"net/http"
	"time"
)

const cookiePrefix = "billed_"

// CookieStore is a KeyValue backed by request cookies. Writes become
// Set-Cookie headers on the response and are visible to later reads on the
// same store.
type CookieStore struct {
	r       *http.Request
	w       http.ResponseWriter
	secure  bool
	maxAge  time.Duration
	written map[string]*string
}

func NewCookieStore(w http.ResponseWriter, r *http.Request, secure bool, maxAge time.Duration) *CookieStore {
	return &CookieStore{r: r, w: w, secure: secure, maxAge: maxAge, written: make(map[string]*string)}
}

func (c *CookieStore) GetItem(key string) (string, bool) {
	if v, ok := c.written[key]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	ck, err := c.r.Cookie(cookiePrefix + key)
	if err != nil {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(ck.Value)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (c *CookieStore) SetItem(key, value string) {
	c.written[key] = &value
	http.SetCookie(c.w, &http.Cookie{
		Name:     cookiePrefix + key,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(value)),
		Path:     "/",
		MaxAge:   int(c.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *CookieStore) RemoveItem(key string) {
	c.written[key] = nil
	http.SetCookie(c.w, &http.Cookie{
		Name:     cookiePrefix + key,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
