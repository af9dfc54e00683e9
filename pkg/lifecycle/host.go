package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for lifecycle dispatch.
var (
	lifecycleEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdsw_lifecycle_events_total",
		Help: "Total lifecycle events dispatched by type and outcome",
	}, []string{"type", "outcome"})

	lifecycleState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pdsw_lifecycle_state",
		Help: "Current agent state (0 parsed, 1 installing, 2 installed, 3 activating, 4 activated, 5 redundant)",
	})
)

// State is the agent's position in the lifecycle.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handler types registered with a Registrar.
type (
	ExtendableHandler func(*ExtendableEvent)
	FetchHandler      func(*FetchEvent)
)

// Registrar is the event registration surface an agent sees.
type Registrar interface {
	OnInstall(ExtendableHandler)
	OnActivate(ExtendableHandler)
	OnFetch(FetchHandler)
}

// Fetcher performs the default network handling of a request.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Host drives an agent through install and activate, then routes requests
// through its fetch handlers.
type Host struct {
	network Fetcher
	logger  zerolog.Logger

	mu       sync.RWMutex
	state    State
	install  []ExtendableHandler
	activate []ExtendableHandler
	fetch    []FetchHandler
}

// NewHost creates a host that falls back to network for default handling.
func NewHost(network Fetcher, logger zerolog.Logger) *Host {
	if network == nil {
		panic("network fetcher cannot be nil")
	}
	lifecycleState.Set(float64(StateParsed))
	return &Host{
		network: network,
		logger:  logger,
		state:   StateParsed,
	}
}

// OnInstall registers an install handler.
func (h *Host) OnInstall(fn ExtendableHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.install = append(h.install, fn)
}

// OnActivate registers an activate handler.
func (h *Host) OnActivate(fn ExtendableHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activate = append(h.activate, fn)
}

// OnFetch registers a fetch handler.
func (h *Host) OnFetch(fn FetchHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetch = append(h.fetch, fn)
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Host) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	lifecycleState.Set(float64(s))
	h.logger.Debug().Str("state", s.String()).Msg("Lifecycle state changed")
}

// Start runs install to completion, then activate. A failed install leaves
// the agent redundant. A failed activate is logged and the agent still
// becomes active.
func (h *Host) Start(ctx context.Context) error {
	h.mu.RLock()
	state := h.state
	install := append([]ExtendableHandler(nil), h.install...)
	activate := append([]ExtendableHandler(nil), h.activate...)
	h.mu.RUnlock()

	if state != StateParsed {
		return fmt.Errorf("host already started (state %s)", state)
	}

	h.setState(StateInstalling)
	if err := h.dispatch(ctx, EventInstall, install); err != nil {
		h.setState(StateRedundant)
		lifecycleEventsTotal.WithLabelValues(string(EventInstall), "failed").Inc()
		return fmt.Errorf("install: %w", err)
	}
	lifecycleEventsTotal.WithLabelValues(string(EventInstall), "ok").Inc()
	h.setState(StateInstalled)

	h.setState(StateActivating)
	if err := h.dispatch(ctx, EventActivate, activate); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("activate: %w", err)
		}
		lifecycleEventsTotal.WithLabelValues(string(EventActivate), "failed").Inc()
		h.logger.Warn().Err(err).Msg("Activate event settled with errors")
	} else {
		lifecycleEventsTotal.WithLabelValues(string(EventActivate), "ok").Inc()
	}
	h.setState(StateActivated)

	return nil
}

func (h *Host) dispatch(ctx context.Context, typ EventType, handlers []ExtendableHandler) error {
	ev := newExtendableEvent(ctx, typ)
	for _, fn := range handlers {
		fn(ev)
	}
	ev.endDispatch()
	return ev.Wait(ctx)
}

// Fetch routes req through the fetch handlers. Before activation, or when no
// handler responds, the request goes to the network unchanged.
func (h *Host) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	h.mu.RLock()
	state := h.state
	handlers := h.fetch
	h.mu.RUnlock()

	if state != StateActivated || len(handlers) == 0 {
		lifecycleEventsTotal.WithLabelValues(string(EventFetch), "passthrough").Inc()
		return h.network.Fetch(ctx, req)
	}

	ev := newFetchEvent(ctx, req)
	for _, fn := range handlers {
		fn(ev)
	}
	ev.endDispatch()

	if !ev.Responded() {
		lifecycleEventsTotal.WithLabelValues(string(EventFetch), "default").Inc()
		return h.network.Fetch(ctx, req)
	}

	resp, err := ev.response(ctx)
	if err != nil {
		lifecycleEventsTotal.WithLabelValues(string(EventFetch), "failed").Inc()
		return nil, err
	}
	lifecycleEventsTotal.WithLabelValues(string(EventFetch), "responded").Inc()
	return resp, nil
}
