package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

// fakeNetwork counts default-handling fetches.
type fakeNetwork struct {
	calls atomic.Int32
	err   error
}

func (f *fakeNetwork) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("network")),
	}, nil
}

func newTestHost(network Fetcher) *Host {
	return NewHost(network, zerolog.New(os.Stderr).Level(zerolog.Disabled))
}

func TestNewHost_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewHost should panic with nil fetcher")
		}
	}()
	NewHost(nil, zerolog.Nop())
}

func TestHost_Start_Order(t *testing.T) {
	host := newTestHost(&fakeNetwork{})

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	host.OnInstall(func(ev *ExtendableEvent) {
		record("install-dispatch")
		_ = ev.WaitUntil(func(ctx context.Context) error {
			record("install-task")
			return nil
		})
	})
	host.OnActivate(func(ev *ExtendableEvent) {
		record("activate-dispatch")
		if got := host.State(); got != StateActivating {
			t.Errorf("state during activate = %s, want activating", got)
		}
	})

	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	want := []string{"install-dispatch", "install-task", "activate-dispatch"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
	if host.State() != StateActivated {
		t.Errorf("State() = %s, want activated", host.State())
	}

	if err := host.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestHost_Start_InstallFailure(t *testing.T) {
	host := newTestHost(&fakeNetwork{})
	activated := false

	host.OnInstall(func(ev *ExtendableEvent) {
		_ = ev.WaitUntil(func(ctx context.Context) error { return errors.New("boom") })
	})
	host.OnActivate(func(ev *ExtendableEvent) { activated = true })

	if err := host.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when install fails")
	}
	if host.State() != StateRedundant {
		t.Errorf("State() = %s, want redundant", host.State())
	}
	if activated {
		t.Error("activate must not run after a failed install")
	}
}

func TestHost_Start_ActivateFailureStillActivates(t *testing.T) {
	host := newTestHost(&fakeNetwork{})
	host.OnActivate(func(ev *ExtendableEvent) {
		_ = ev.WaitUntil(func(ctx context.Context) error { return errors.New("delete failed") })
	})

	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if host.State() != StateActivated {
		t.Errorf("State() = %s, want activated", host.State())
	}
}

func TestHost_Fetch_BeforeActivation(t *testing.T) {
	network := &fakeNetwork{}
	host := newTestHost(network)

	handled := false
	host.OnFetch(func(ev *FetchEvent) { handled = true })

	resp, err := host.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "http://localhost/", nil))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	resp.Body.Close()

	if handled {
		t.Error("fetch handler ran before activation")
	}
	if network.calls.Load() != 1 {
		t.Errorf("network calls = %d, want 1", network.calls.Load())
	}
}

func TestHost_Fetch_Responded(t *testing.T) {
	network := &fakeNetwork{}
	host := newTestHost(network)
	host.OnFetch(func(ev *FetchEvent) {
		_ = ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("cached"))}, nil
		})
	})
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := host.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "http://localhost/", nil))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "cached" {
		t.Errorf("body = %q, want cached", body)
	}
	if network.calls.Load() != 0 {
		t.Errorf("network calls = %d, want 0", network.calls.Load())
	}
}

func TestHost_Fetch_DefaultHandling(t *testing.T) {
	network := &fakeNetwork{}
	host := newTestHost(network)
	host.OnFetch(func(ev *FetchEvent) {})
	_ = host.Start(context.Background())

	resp, err := host.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "http://localhost/", nil))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	resp.Body.Close()
	if network.calls.Load() != 1 {
		t.Errorf("network calls = %d, want 1", network.calls.Load())
	}
}

func TestHost_Fetch_FirstResponderWins(t *testing.T) {
	host := newTestHost(&fakeNetwork{})

	var secondErr error
	host.OnFetch(func(ev *FetchEvent) {
		_ = ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusTeapot, Body: http.NoBody}, nil
		})
	})
	host.OnFetch(func(ev *FetchEvent) {
		secondErr = ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
		})
	})
	_ = host.Start(context.Background())

	resp, err := host.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "http://localhost/", nil))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("StatusCode = %d, want 418 from first handler", resp.StatusCode)
	}
	if !errors.Is(secondErr, ErrAlreadyResponded) {
		t.Errorf("second RespondWith error = %v, want ErrAlreadyResponded", secondErr)
	}
}

func TestHost_Fetch_NoResponseIsFailedLoad(t *testing.T) {
	network := &fakeNetwork{}
	host := newTestHost(network)
	host.OnFetch(func(ev *FetchEvent) {
		_ = ev.RespondWith(func(ctx context.Context) (*http.Response, error) { return nil, nil })
	})
	_ = host.Start(context.Background())

	_, err := host.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "http://localhost/", nil))
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("Fetch() error = %v, want ErrNoResponse", err)
	}
	if network.calls.Load() != 0 {
		t.Errorf("network calls = %d, want 0", network.calls.Load())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateParsed:     "parsed",
		StateInstalling: "installing",
		StateInstalled:  "installed",
		StateActivating: "activating",
		StateActivated:  "activated",
		StateRedundant:  "redundant",
		State(42):       "state(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
