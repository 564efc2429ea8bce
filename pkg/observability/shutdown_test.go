package observability

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, 0)
	if sm.shutdownTimeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", sm.shutdownTimeout)
	}
}

func TestShutdown_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	var order []string
	for _, name := range []string{"database", "audit", "sweeper"} {
		name := name
		sm.RegisterShutdownFunc(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := sm.Shutdown(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := "sweeper,audit,database"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("Expected order %s, got %s", want, got)
	}
}

func TestShutdown_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	ran := false
	sm.RegisterShutdownFunc("first", func(ctx context.Context) error {
		ran = true
		return nil
	})
	sm.RegisterShutdownFunc("broken", func(ctx context.Context) error {
		return errors.New("close failed")
	})

	err := sm.Shutdown()
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "broken: close failed") {
		t.Errorf("Unexpected error %v", err)
	}
	if !ran {
		t.Error("Remaining shutdown functions should still run after a failure")
	}
}

func TestShutdown_StopsServer(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(NopLogger(), server, time.Second)

	if err := sm.Shutdown(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Expected server closed, got %v", err)
	}
}

func TestWaitForShutdown_ContextCancel(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	called := make(chan struct{})
	sm.RegisterShutdownFunc("probe", func(ctx context.Context) error {
		close(called)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sm.WaitForShutdown(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	select {
	case <-called:
	default:
		t.Error("Shutdown function was not executed")
	}
}

func TestFatalOnPanic(t *testing.T) {
	code := -1
	exit = func(c int) { code = c }
	defer func() { exit = os.Exit }()

	func() {
		defer FatalOnPanic(NopLogger())
		panic("boot failure")
	}()

	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
}

func TestRecoverPanic(t *testing.T) {
	func() {
		defer RecoverPanic(NopLogger(), "test")
		panic("recovered")
	}()
}
