package cli

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"billed/internal/log"
)

type fakeServer struct {
	stopped  chan struct{}
	listenFn func() error
}

func newFakeServer() *fakeServer {
	return &fakeServer{stopped: make(chan struct{})}
}

func (s *fakeServer) ListenAndServe() error {
	if s.listenFn != nil {
		return s.listenFn()
	}
	<-s.stopped
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
	return nil
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := newFakeServer()
	workerDone := make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		errc <- Run(ctx, log.Discard(), srv, time.Second, func(ctx context.Context) error {
			<-ctx.Done()
			close(workerDone)
			return nil
		})
	}()
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-workerDone
}

func TestRun_WorkerFailureShutsServerDown(t *testing.T) {
	srv := newFakeServer()
	boom := errors.New("consumer died")

	err := Run(context.Background(), log.Discard(), srv, time.Second, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run = %v, want %v", err, boom)
	}
	select {
	case <-srv.stopped:
	default:
		t.Error("server was not shut down")
	}
}

func TestRun_ListenError(t *testing.T) {
	srv := newFakeServer()
	srv.listenFn = func() error { return errors.New("address already in use") }

	if err := Run(context.Background(), log.Discard(), srv, time.Second); err == nil {
		t.Fatal("expected the listen error")
	}
}

func TestBootstrap_RejectsUnknownLogFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "xml")
	if _, _, err := Bootstrap(); err == nil {
		t.Error("expected an error for an unknown log format")
	}
}
