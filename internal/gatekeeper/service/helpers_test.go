package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/credential"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/policy"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/memory"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/obs"
)

// monday is 2026-10-19, a Monday.
func monday(h, m int) time.Time {
	return time.Date(2026, 10, 19, h, m, 0, 0, time.UTC)
}

func tod(h, m int) *policy.TimeOfDay {
	t := policy.Clock(h, m, 0)
	return &t
}

func newMetrics() *obs.Metrics {
	return obs.NewMetrics(prometheus.NewRegistry())
}

// seedDaysShift loads the reference fixture: FRONTDOOR (1) and BACKDOOR (2),
// group 100 "DaysShift" on Mondays 08:00–17:00 bound to FRONTDOOR only, and
// user 1 holding chip 0000012345.
func seedDaysShift() *memory.Store {
	st := memory.New()
	st.AddReader(store.Reader{ID: 1, Identifier: "FRONTDOOR", ResponseChannel: "FRONTDOOR/pushopen"})
	st.AddReader(store.Reader{ID: 2, Identifier: "BACKDOOR", ResponseChannel: "BACKDOOR/pushopen"})
	st.AddGroup(policy.Group{
		ID:   100,
		Name: "DaysShift",
		Days: policy.Weekdays{true},
		From: tod(8, 0),
		To:   tod(17, 0),
	})
	st.AddUser(store.User{ID: 1, ChipNumber: "0000012345", CardNumber: "CARD-1"})
	st.AddMembership(1, 100)
	st.AddBinding(100, 1)
	return st
}

type dispatched struct {
	Reader   store.Reader
	Decision policy.Decision
	EventID  string
}

// recordingSink captures Dispatch calls synchronously.
type recordingSink struct {
	mu    sync.Mutex
	calls []dispatched
	err   error
}

func (s *recordingSink) Dispatch(r store.Reader, d policy.Decision, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, dispatched{Reader: r, Decision: d, EventID: eventID})
	return s.err
}

func (s *recordingSink) Calls() []dispatched {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatched(nil), s.calls...)
}

type pipelineFixture struct {
	pipeline *service.Pipeline
	store    *memory.Store
	sink     *recordingSink
	metrics  *obs.Metrics
}

func newPipelineFixture(t *testing.T, at time.Time) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		store:   seedDaysShift(),
		sink:    &recordingSink{},
		metrics: newMetrics(),
	}
	f.pipeline = service.NewPipeline(
		f.store,
		service.NewReaderRegistry(""),
		f.sink,
		service.PipelineConfig{Encoding: credential.EncodingDecimal, Location: time.UTC, Timeout: time.Second},
		obs.Discard(),
		f.metrics,
	)
	f.pipeline.SetClock(func() time.Time { return at })
	return f
}
