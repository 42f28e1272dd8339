package http

import (
	"context"
	"net/http"
	"sync"

	"billed/internal/session"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	navigationKey
)

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// redirect navigates to path: HX-Redirect for htmx requests, 303 otherwise.
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	if isHTMX(r) {
		NewHTMXResponse().Redirect(path).Write(w)
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func withIdentity(ctx context.Context, id session.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func identityFrom(ctx context.Context) (session.Identity, bool) {
	id, ok := ctx.Value(identityKey).(session.Identity)
	return id, ok
}

// navigation records the route a component asked for during a request.
type navigation struct {
	mu   sync.Mutex
	path string
}

func withNavigation(ctx context.Context) (context.Context, *navigation) {
	n := &navigation{}
	return context.WithValue(ctx, navigationKey, n), n
}

func (n *navigation) target() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

// navigate is the Navigator handed to components. The request handler turns
// the recorded path into a redirect once the component returns.
func navigate(ctx context.Context, path string) {
	if n, ok := ctx.Value(navigationKey).(*navigation); ok {
		n.mu.Lock()
		n.path = path
		n.mu.Unlock()
	}
}
