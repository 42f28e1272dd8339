package newbill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"billed/internal/core"
	"billed/internal/log"
	"billed/internal/session"
	"billed/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	creates   []store.CreateRequest
	updates   []store.UpdateRequest
	createRes store.CreateResult
	createErr error
	updateErr error
	release   chan struct{}
	// onCreate, when set, answers each Create instead of createRes/createErr.
	onCreate  func(store.CreateRequest) (store.CreateResult, error)
}

func (s *fakeStore) Create(ctx context.Context, req store.CreateRequest) (store.CreateResult, error) {
	s.mu.Lock()
	s.creates = append(s.creates, req)
	release, res, err, hook := s.release, s.createRes, s.createErr, s.onCreate
	s.mu.Unlock()
	if release != nil {
		<-release
	}
	if hook != nil {
		return hook(req)
	}
	return res, err
}

func (s *fakeStore) Update(ctx context.Context, req store.UpdateRequest) (core.Bill, error) {
	s.mu.Lock()
	s.updates = append(s.updates, req)
	s.mu.Unlock()
	if s.updateErr != nil {
		return core.Bill{}, s.updateErr
	}
	return core.UnmarshalBill(req.Data)
}

func (s *fakeStore) lastUpdate(t *testing.T) store.UpdateRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		t.Fatalf("update was not called")
	}
	return s.updates[len(s.updates)-1]
}

type navRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (n *navRecorder) navigate(_ context.Context, path string) {
	n.mu.Lock()
	n.paths = append(n.paths, path)
	n.mu.Unlock()
}

func newForm(s *fakeStore, nav *navRecorder) *Form {
	cfg := Config{
		Store:   s,
		Session: session.Identity{Email: "user@email.com", Type: core.UserEmployee},
		Logger:  log.Discard(),
	}
	if nav != nil {
		cfg.Navigate = nav.navigate
	}
	return New(cfg)
}

func fill(t *testing.T, f *Form, values map[string]string) {
	t.Helper()
	for name, v := range values {
		if err := f.SetField(name, v); err != nil {
			t.Fatalf("SetField(%q): %v", name, err)
		}
	}
}

var scenarioFields = map[string]string{
	FieldType:       "type",
	FieldName:       "name",
	FieldAmount:     "3000",
	FieldDate:       "date",
	FieldVAT:        "vat",
	FieldPct:        "25",
	FieldCommentary: "commentary",
}

func TestAttachmentChangeSendsSessionEmail(t *testing.T) {
	s := &fakeStore{createRes: store.CreateResult{FileURL: "fileURL", Key: "key"}}
	f := newForm(s, nil)

	f.HandleAttachmentChange(context.Background(), "image.png", store.Attachment{
		ContentType: "image/png",
		Content:     []byte("img"),
	})
	u, err := f.WaitUpload(context.Background())
	if err != nil {
		t.Fatalf("WaitUpload: %v", err)
	}

	if len(s.creates) != 1 {
		t.Fatalf("create called %d times", len(s.creates))
	}
	req := s.creates[0]
	if req.Email != "user@email.com" {
		t.Fatalf("email = %q", req.Email)
	}
	if req.Attachment.Name != "image.png" || string(req.Attachment.Content) != "img" {
		t.Fatalf("attachment = %+v", req.Attachment)
	}
	if u.Phase != PhaseUploaded || u.FileURL != "fileURL" || u.Key != "key" || u.FileName != "image.png" {
		t.Fatalf("upload = %+v", u)
	}
	if f.State() != StateFileUploaded {
		t.Fatalf("state = %s", f.State())
	}
}

func TestSubmitWithoutUploadPayload(t *testing.T) {
	s := &fakeStore{}
	nav := &navRecorder{}
	f := newForm(s, nav)
	fill(t, f, scenarioFields)

	if _, err := f.HandleSubmit(context.Background()); err != nil {
		t.Fatalf("HandleSubmit: %v", err)
	}

	req := s.lastUpdate(t)
	if req.Selector != "" {
		t.Fatalf("selector = %q, want empty without upload", req.Selector)
	}
	var got map[string]any
	if err := json.Unmarshal(req.Data, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	want := map[string]any{
		"email":      "user@email.com",
		"type":       "type",
		"name":       "name",
		"amount":     float64(3000),
		"date":       "date",
		"vat":        "vat",
		"pct":        float64(25),
		"commentary": "commentary",
		"fileUrl":    nil,
		"fileName":   nil,
		"status":     "pending",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("payload mismatch\n got: %v\nwant: %v", got, want)
	}
	if len(nav.paths) != 1 || nav.paths[0] != core.RouteBills {
		t.Fatalf("navigations = %v", nav.paths)
	}
	if f.State() != StateNavigatedAway {
		t.Fatalf("state = %s", f.State())
	}
}

func TestSubmitAfterUploadRoundTrip(t *testing.T) {
	s := &fakeStore{createRes: store.CreateResult{FileURL: "https://files/abc.png", Key: "k1"}}
	f := newForm(s, &navRecorder{})
	fill(t, f, scenarioFields)
	f.HandleAttachmentChange(context.Background(), `C:\fakepath\facture.png`, store.Attachment{Content: []byte("x")})

	stored, err := f.HandleSubmit(context.Background())
	if err != nil {
		t.Fatalf("HandleSubmit: %v", err)
	}
	req := s.lastUpdate(t)
	if req.Selector != "k1" {
		t.Fatalf("selector = %q", req.Selector)
	}
	if core.Deref(stored.FileURL) != "https://files/abc.png" || core.Deref(stored.FileName) != "facture.png" {
		t.Fatalf("stored attachment = %v %v", stored.FileURL, stored.FileName)
	}
	if stored.Pct != 25 || stored.Amount != 3000 || stored.Status != core.StatusPending {
		t.Fatalf("stored bill = %+v", stored)
	}
}

func TestDefaultPct(t *testing.T) {
	s := &fakeStore{}
	f := newForm(s, nil)
	fill(t, f, map[string]string{FieldAmount: "12.5"})

	stored, err := f.HandleSubmit(context.Background())
	if err != nil {
		t.Fatalf("HandleSubmit: %v", err)
	}
	if stored.Pct != core.DefaultPct || stored.Amount != 12.5 {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestNonNumericAmountIsRejected(t *testing.T) {
	s := &fakeStore{}
	nav := &navRecorder{}
	f := newForm(s, nav)
	fill(t, f, map[string]string{FieldAmount: "abc"})

	_, err := f.HandleSubmit(context.Background())
	if !errors.Is(err, core.ErrInvalidAmount) || !errors.Is(err, core.ErrSubmitFailed) {
		t.Fatalf("err = %v", err)
	}
	if len(s.updates) != 0 {
		t.Fatalf("store must not be called with an invalid amount")
	}
	if len(nav.paths) != 0 {
		t.Fatalf("must not navigate on failure")
	}
}

func TestUploadFailureDoesNotBlockSubmit(t *testing.T) {
	s := &fakeStore{createErr: errors.New("413 too large")}
	f := newForm(s, &navRecorder{})
	fill(t, f, scenarioFields)
	f.HandleAttachmentChange(context.Background(), "big.pdf", store.Attachment{})

	u, err := f.WaitUpload(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if u.Phase != PhaseFailed || !errors.Is(u.Err, core.ErrUploadFailed) {
		t.Fatalf("upload = %+v", u)
	}
	if f.State() != StateUploadFailed {
		t.Fatalf("state = %s", f.State())
	}

	stored, err := f.HandleSubmit(context.Background())
	if err != nil {
		t.Fatalf("HandleSubmit: %v", err)
	}
	if stored.FileURL != nil || stored.FileName != nil {
		t.Fatalf("attachment fields should be null after a failed upload")
	}
	if s.lastUpdate(t).Selector != "" {
		t.Fatalf("failed upload key must not be used")
	}
}

func TestSubmitQueuesBehindInFlightUpload(t *testing.T) {
	s := &fakeStore{
		createRes: store.CreateResult{FileURL: "url", Key: "k"},
		release:   make(chan struct{}),
	}
	f := newForm(s, &navRecorder{})
	fill(t, f, scenarioFields)
	f.HandleAttachmentChange(context.Background(), "image.png", store.Attachment{})
	if f.State() != StateFileSelected {
		t.Fatalf("state = %s", f.State())
	}

	done := make(chan core.Bill, 1)
	go func() {
		b, err := f.HandleSubmit(context.Background())
		if err != nil {
			t.Errorf("HandleSubmit: %v", err)
		}
		done <- b
	}()

	select {
	case <-done:
		t.Fatalf("submit finished before the upload settled")
	case <-time.After(20 * time.Millisecond):
	}
	close(s.release)

	b := <-done
	if core.Deref(b.FileURL) != "url" {
		t.Fatalf("queued submit lost the attachment: %+v", b)
	}
}

// A new file chosen while a submit is starting must never leave the submit
// with an in-flight snapshot: the bill either carries the earlier upload or
// waits for the new one.
func TestSubmitRacingNewAttachmentKeepsAnUpload(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		s := &fakeStore{}
		var n atomic.Int32
		s.onCreate = func(req store.CreateRequest) (store.CreateResult, error) {
			key := fmt.Sprintf("key-%d", n.Add(1))
			return store.CreateResult{FileURL: "https://files/" + req.Attachment.Name, Key: key}, nil
		}
		f := newForm(s, nil)
		fill(t, f, scenarioFields)
		f.HandleAttachmentChange(ctx, "first.png", store.Attachment{})
		if _, err := f.WaitUpload(ctx); err != nil {
			t.Fatalf("WaitUpload: %v", err)
		}

		done := make(chan error, 1)
		go func() {
			_, err := f.HandleSubmit(ctx)
			done <- err
		}()
		f.HandleAttachmentChange(ctx, "second.png", store.Attachment{})
		if err := <-done; err != nil {
			t.Fatalf("HandleSubmit: %v", err)
		}

		req := s.lastUpdate(t)
		b, err := core.UnmarshalBill(req.Data)
		if err != nil {
			t.Fatalf("unmarshal update: %v", err)
		}
		want := map[string]string{"key-1": "first.png", "key-2": "second.png"}[req.Selector]
		if want == "" || core.Deref(b.FileName) != want || core.Deref(b.FileURL) != "https://files/"+want {
			t.Fatalf("run %d: selector %q with file %q, want a settled upload", i, req.Selector, core.Deref(b.FileName))
		}
	}
}

func TestSubmitGivesUpWhenContextEnds(t *testing.T) {
	s := &fakeStore{release: make(chan struct{})}
	defer close(s.release)
	f := newForm(s, nil)
	f.HandleAttachmentChange(context.Background(), "image.png", store.Attachment{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.HandleSubmit(ctx)
	if !errors.Is(err, core.ErrUploadInFlight) {
		t.Fatalf("err = %v", err)
	}
	if len(s.updates) != 0 {
		t.Fatalf("update must not run while the upload is in flight")
	}
}

func TestSupersededUploadIsIgnored(t *testing.T) {
	first := make(chan struct{})
	s := &fakeStore{release: first, createRes: store.CreateResult{Key: "old"}}
	f := newForm(s, nil)
	f.HandleAttachmentChange(context.Background(), "old.png", store.Attachment{})

	// Make sure the first request has been picked up before replacing it.
	for {
		s.mu.Lock()
		n := len(s.creates)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	s.mu.Lock()
	s.release = nil
	s.createRes = store.CreateResult{Key: "new"}
	s.mu.Unlock()
	f.HandleAttachmentChange(context.Background(), "new.png", store.Attachment{})
	u, err := f.WaitUpload(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	close(first)
	time.Sleep(5 * time.Millisecond)

	if u.Key != "new" || f.Upload().Key != "new" {
		t.Fatalf("upload = %+v, current = %+v", u, f.Upload())
	}
}

func TestSubmitFailureKeepsForm(t *testing.T) {
	s := &fakeStore{updateErr: errors.New("500")}
	nav := &navRecorder{}
	f := newForm(s, nav)
	fill(t, f, scenarioFields)

	_, err := f.HandleSubmit(context.Background())
	if !errors.Is(err, core.ErrSubmitFailed) {
		t.Fatalf("err = %v", err)
	}
	if f.Fields().Amount != "3000" || f.State() == StateSubmitting {
		t.Fatalf("form not editable after failure: %+v %s", f.Fields(), f.State())
	}
	if len(nav.paths) != 0 {
		t.Fatalf("navigated after failure")
	}

	s.updateErr = nil
	if _, err := f.HandleSubmit(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestUnknownField(t *testing.T) {
	if err := newForm(&fakeStore{}, nil).SetField("colour", "red"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("err = %v", err)
	}
}

func TestFileNameFromInput(t *testing.T) {
	cases := map[string]string{
		`C:\fakepath\image.png`: "image.png",
		"/tmp/a/b.jpg":          "b.jpg",
		"plain.pdf":             "plain.pdf",
		"":                      "",
	}
	for in, want := range cases {
		if got := FileNameFromInput(in); got != want {
			t.Errorf("FileNameFromInput(%q) = %q, want %q", in, got, want)
		}
	}
}
