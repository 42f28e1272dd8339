package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"billed/internal/auth"
	"billed/internal/config"
	"billed/internal/core"
	"billed/internal/services"
	"billed/internal/storage"
	"billed/internal/store"
	storeapi "billed/internal/store/api"
)

type fakePublisher struct {
	mu    sync.Mutex
	bills []core.Bill
}

func (p *fakePublisher) PublishBillSubmitted(_ context.Context, b core.Bill) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bills = append(p.bills, b)
	return nil
}

func (p *fakePublisher) published() []core.Bill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.Bill(nil), p.bills...)
}

type testEnv struct {
	srv       *httptest.Server
	repo      *storage.MemoryRepository
	publisher *fakePublisher
}

func newTestEnv(t *testing.T, maxUpload int64) *testEnv {
	t.Helper()
	return newLimitedTestEnv(t, maxUpload, 0)
}

func newLimitedTestEnv(t *testing.T, maxUpload int64, requestsPerMinute int) *testEnv {
	t.Helper()
	var s *Server
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	repo := storage.NewMemoryRepository()
	blobs, err := storage.NewBlobStore(t.TempDir(), maxUpload)
	if err != nil {
		t.Fatalf("NewBlobStore: %v", err)
	}
	err = SeedUsers(context.Background(), repo, []config.SeedUser{
		{Email: "employee@test.tld", Password: "employee", Type: "Employee"},
		{Email: "other@test.tld", Password: "other", Type: "Employee"},
		{Email: "admin@test.tld", Password: "admin", Type: "Admin"},
	}, nil)
	if err != nil {
		t.Fatalf("SeedUsers: %v", err)
	}

	pub := &fakePublisher{}
	s, err = NewServer(Options{
		Bills:             services.NewBillService(repo, pub, nil),
		Blobs:             blobs,
		Tokens:            auth.NewTokenManager("0123456789abcdef", "billed", time.Hour),
		PublicBaseURL:     srv.URL,
		MaxUploadBytes:    maxUpload,
		RequestsPerMinute: requestsPerMinute,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { s.limiter.Stop() })
	return &testEnv{srv: srv, repo: repo, publisher: pub}
}

func (e *testEnv) login(t *testing.T, email, password string) *storeapi.Client {
	t.Helper()
	c := storeapi.New(e.srv.URL, e.srv.Client())
	token, err := c.Login(context.Background(), email, password)
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return c.WithToken(token)
}

func statusCode(err error) int {
	var se *store.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func TestSubmitFlow(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	c := env.login(t, "employee@test.tld", "employee")

	me, err := c.Me(ctx)
	if err != nil || me.Email != "employee@test.tld" || me.Type != core.UserEmployee {
		t.Fatalf("Me = %+v, %v", me, err)
	}

	res, err := c.Create(ctx, store.CreateRequest{
		Attachment: store.Attachment{Name: "image.png", ContentType: "image/png", Content: []byte("png-bytes")},
		Email:      "employee@test.tld",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Key == "" || !strings.HasPrefix(res.FileURL, env.srv.URL+"/files/") {
		t.Fatalf("CreateResult = %+v", res)
	}

	bills, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(bills) != 0 {
		t.Fatalf("draft must not be listed, got %+v", bills)
	}

	payload, _ := core.Bill{
		Email: "employee@test.tld", Type: "Transports", Name: "train", Amount: 400,
		Date: "2004-04-04", VAT: "80", Pct: 20, Status: core.StatusAccepted,
	}.Marshal()
	updated, err := c.Update(ctx, store.UpdateRequest{Data: payload, Selector: res.Key})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ID != res.Key || updated.Status != core.StatusPending {
		t.Errorf("employee must not set the status: %+v", updated)
	}
	if core.Deref(updated.FileName) != "image.png" || core.Deref(updated.FileURL) != res.FileURL {
		t.Errorf("attachment not kept: %+v", updated)
	}

	bills, err = c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(bills) != 1 || bills[0].Name != "train" {
		t.Fatalf("bills = %+v", bills)
	}

	resp, err := env.srv.Client().Get(res.FileURL)
	if err != nil {
		t.Fatalf("GET file: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "png-bytes" {
		t.Errorf("file = %d %q", resp.StatusCode, body)
	}

	if pub := env.publisher.published(); len(pub) != 1 || pub[0].ID != res.Key {
		t.Errorf("published = %+v, want the submitted bill only", pub)
	}
}

func TestCreateWithoutSelector(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	c := env.login(t, "employee@test.tld", "employee")

	payload, _ := core.Bill{Name: "hotel", Amount: 90, Date: "2020-01-02", Email: "someone@else.tld"}.Marshal()
	b, err := c.Update(ctx, store.UpdateRequest{Data: payload})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if b.ID == "" || b.Email != "employee@test.tld" || b.Status != core.StatusPending {
		t.Errorf("created = %+v", b)
	}
	if bills, _ := c.List(ctx); len(bills) != 1 {
		t.Errorf("bills = %+v", bills)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	c := storeapi.New(env.srv.URL, env.srv.Client())
	for _, creds := range [][2]string{{"employee@test.tld", "wrong"}, {"nobody@test.tld", "x"}} {
		if _, err := c.Login(context.Background(), creds[0], creds[1]); statusCode(err) != http.StatusUnauthorized {
			t.Errorf("Login(%s) err = %v, want 401", creds[0], err)
		}
	}
}

func TestRequiresToken(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	c := storeapi.New(env.srv.URL, env.srv.Client())
	if _, err := c.List(context.Background()); statusCode(err) != http.StatusUnauthorized {
		t.Errorf("anonymous List err = %v, want 401", err)
	}
	if _, err := c.WithToken("garbage").Me(context.Background()); statusCode(err) != http.StatusUnauthorized {
		t.Errorf("garbage token err = %v, want 401", err)
	}
}

func TestOwnershipAndAdminReview(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	ctx := context.Background()
	owner := env.login(t, "employee@test.tld", "employee")
	other := env.login(t, "other@test.tld", "other")
	admin := env.login(t, "admin@test.tld", "admin")

	payload, _ := core.Bill{Name: "taxi", Amount: 30, Date: "2021-05-05"}.Marshal()
	b, err := owner.Update(ctx, store.UpdateRequest{Data: payload})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := other.Update(ctx, store.UpdateRequest{Data: payload, Selector: b.ID}); statusCode(err) != http.StatusNotFound {
		t.Errorf("foreign update err = %v, want 404", err)
	}
	if bills, _ := other.List(ctx); len(bills) != 0 {
		t.Errorf("other sees %d bills, want 0", len(bills))
	}

	review, _ := core.Bill{Name: "taxi", Amount: 30, Date: "2021-05-05", Status: core.StatusAccepted, CommentAdmin: "ok"}.Marshal()
	reviewed, err := admin.Update(ctx, store.UpdateRequest{Data: review, Selector: b.ID})
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if reviewed.Status != core.StatusAccepted || reviewed.CommentAdmin != "ok" || reviewed.Email != "employee@test.tld" {
		t.Errorf("reviewed = %+v", reviewed)
	}
	if bills, _ := admin.List(ctx); len(bills) != 1 {
		t.Errorf("admin sees %d bills, want 1", len(bills))
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, 8)
	c := env.login(t, "employee@test.tld", "employee")
	_, err := c.Create(context.Background(), store.CreateRequest{
		Attachment: store.Attachment{Name: "big.png", Content: []byte("0123456789")},
		Email:      "employee@test.tld",
	})
	if statusCode(err) != http.StatusRequestEntityTooLarge {
		t.Fatalf("err = %v, want 413", err)
	}
}

func TestFileNotFound(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	resp, err := env.srv.Client().Get(env.srv.URL + "/files/missing.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSeedUsersRejectsUnknownType(t *testing.T) {
	err := SeedUsers(context.Background(), storage.NewMemoryRepository(),
		[]config.SeedUser{{Email: "x@test.tld", Password: "x", Type: "Manager"}}, nil)
	if err == nil {
		t.Error("expected an error for an unknown user type")
	}
}

func TestWriteLimitIsPerUser(t *testing.T) {
	env := newLimitedTestEnv(t, 1<<20, 2)
	ctx := context.Background()
	employee := env.login(t, "employee@test.tld", "employee")
	other := env.login(t, "other@test.tld", "other")

	data := []byte(`{"name":"taxi","date":"2004-04-04","amount":10,"vat":"2","pct":20}`)
	for i := 0; i < 2; i++ {
		if _, err := employee.Update(ctx, store.UpdateRequest{Data: data}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if _, err := employee.Update(ctx, store.UpdateRequest{Data: data}); statusCode(err) != http.StatusTooManyRequests {
		t.Fatalf("third write err = %v, want 429", err)
	}

	// Same client address, different token: its own budget.
	if _, err := other.Update(ctx, store.UpdateRequest{Data: data}); err != nil {
		t.Fatalf("other user write: %v", err)
	}
	if _, err := employee.List(ctx); err != nil {
		t.Fatalf("reads are not limited: %v", err)
	}
}
