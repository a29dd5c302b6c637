package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSource delivers positions and errors on demand.
type fakeSource struct {
	mu        sync.Mutex
	onUpdate  func(Position)
	onError   func(error)
	cancelled bool
}

func (s *fakeSource) Subscribe(onUpdate func(Position), onError func(error)) (func(), error) {
	s.mu.Lock()
	s.onUpdate = onUpdate
	s.onError = onError
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
	}, nil
}

func (s *fakeSource) emit(p Position) {
	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (s *fakeSource) wasCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// fakeAPI records pushes and serves a scripted nearby set. Responses
// can be delayed through the release channel to simulate slow calls.
type fakeAPI struct {
	mu        sync.Mutex
	pushes    []Position
	nearby    []NearbyUser
	pushErr   error
	pullErr   error
	release   chan struct{} // when non-nil, calls block until closed
	pullCount int
}

func (a *fakeAPI) PushLocation(ctx context.Context, pos Position) error {
	a.mu.Lock()
	release := a.release
	a.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pushErr != nil {
		return a.pushErr
	}
	a.pushes = append(a.pushes, pos)
	return nil
}

func (a *fakeAPI) FetchNearby(ctx context.Context, lat, lng, radiusKm float64) (*NearbyResult, error) {
	a.mu.Lock()
	release := a.release
	a.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pullCount++
	if a.pullErr != nil {
		return nil, a.pullErr
	}
	res := &NearbyResult{Users: a.nearby}
	res.Origin.Lat, res.Origin.Lng = lat, lng
	return res, nil
}

func (a *fakeAPI) pushCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pushes)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTrackerPushesAndPulls(t *testing.T) {
	source := &fakeSource{}
	api := &fakeAPI{nearby: []NearbyUser{{ID: 2, Name: "Marko", DistanceKm: 1.93}}}

	tr := New(api, source, Options{PollInterval: 10 * time.Millisecond, RadiusKm: 5})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	source.emit(Position{Lat: 44.8070, Lng: 20.4520})

	waitFor(t, time.Second, func() bool {
		return api.pushCount() > 0 && len(tr.Status().Nearby) == 1
	})

	st := tr.Status()
	if st.State != StateWatching {
		t.Errorf("state = %v, want watching", st.State)
	}
	if st.Nearby[0].ID != 2 {
		t.Errorf("nearby = %+v", st.Nearby)
	}
	if st.LastPushErr != nil || st.LastPullErr != nil {
		t.Errorf("unexpected sync errors: push=%v pull=%v", st.LastPushErr, st.LastPullErr)
	}
}

func TestTrackerNoPushWithoutPosition(t *testing.T) {
	source := &fakeSource{}
	api := &fakeAPI{}

	// Fallback origin lets pulls run, but nothing may be pushed until
	// a real fix arrives.
	tr := New(api, source, Options{
		PollInterval:   10 * time.Millisecond,
		FallbackOrigin: &Position{Lat: 44.8125, Lng: 20.4612},
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	waitFor(t, time.Second, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.pullCount > 1
	})

	if api.pushCount() != 0 {
		t.Errorf("pushed %d positions without a fix", api.pushCount())
	}
}

func TestTrackerSyncFailureIsSurfacedNotFatal(t *testing.T) {
	source := &fakeSource{}
	api := &fakeAPI{pullErr: errors.New("boom")}

	tr := New(api, source, Options{PollInterval: 10 * time.Millisecond})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	source.emit(Position{Lat: 44.8070, Lng: 20.4520})

	waitFor(t, time.Second, func() bool {
		return tr.Status().LastPullErr != nil
	})

	// Session survives the failed tick and keeps ticking.
	if st := tr.Status(); st.State != StateWatching {
		t.Errorf("state after pull failure = %v, want watching", st.State)
	}

	// Recovery clears the error on the next successful pull.
	api.mu.Lock()
	api.pullErr = nil
	api.mu.Unlock()

	waitFor(t, time.Second, func() bool {
		return tr.Status().LastPullErr == nil
	})
}

func TestTrackerStopDiscardsLateResponses(t *testing.T) {
	source := &fakeSource{}
	release := make(chan struct{})
	api := &fakeAPI{
		nearby:  []NearbyUser{{ID: 7, Name: "Late"}},
		release: release,
	}

	tr := New(api, source, Options{PollInterval: 10 * time.Millisecond})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	source.emit(Position{Lat: 44.8070, Lng: 20.4520})

	// Give the first tick time to issue its in-flight calls, then stop
	// while they are still blocked.
	time.Sleep(20 * time.Millisecond)
	tr.Stop()

	if !source.wasCancelled() {
		t.Error("position subscription not cancelled on stop")
	}

	// Release the in-flight responses after stop: nothing may mutate
	// observable state.
	close(release)
	time.Sleep(20 * time.Millisecond)

	st := tr.Status()
	if st.State != StateStopped {
		t.Errorf("state = %v, want stopped", st.State)
	}
	if len(st.Nearby) != 0 {
		t.Errorf("late pull response mutated state after stop: %+v", st.Nearby)
	}
}

func TestTrackerSensorFailureIsTerminal(t *testing.T) {
	source := &fakeSource{}
	api := &fakeAPI{}

	tr := New(api, source, Options{PollInterval: 10 * time.Millisecond})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sensorErr := errors.New("permission denied")
	source.fail(sensorErr)

	waitFor(t, time.Second, func() bool {
		return tr.Status().State == StateFailed
	})

	st := tr.Status()
	if !errors.Is(st.SensorErr, sensorErr) {
		t.Errorf("SensorErr = %v, want %v", st.SensorErr, sensorErr)
	}
	if !source.wasCancelled() {
		t.Error("subscription not released on sensor failure")
	}

	// No silent restart: the session stays failed.
	time.Sleep(30 * time.Millisecond)
	if st := tr.Status(); st.State != StateFailed {
		t.Errorf("state = %v, want failed", st.State)
	}
}

// eagerSource delivers callbacks synchronously, inside Subscribe itself,
// the way a sensor API reporting an immediate permission error does.
type eagerSource struct {
	pos *Position
	err error
}

func (s *eagerSource) Subscribe(onUpdate func(Position), onError func(error)) (func(), error) {
	if s.pos != nil {
		onUpdate(*s.pos)
	}
	if s.err != nil {
		onError(s.err)
	}
	return func() {}, nil
}

func TestTrackerSensorFailureDuringSubscribe(t *testing.T) {
	sensorErr := errors.New("permission denied")
	tr := New(&fakeAPI{}, &eagerSource{err: sensorErr}, Options{PollInterval: 10 * time.Millisecond})

	if err := tr.Start(context.Background()); !errors.Is(err, sensorErr) {
		t.Fatalf("Start = %v, want the sensor error", err)
	}

	st := tr.Status()
	if st.State != StateFailed {
		t.Errorf("state = %v, want failed", st.State)
	}
	if !errors.Is(st.SensorErr, sensorErr) {
		t.Errorf("SensorErr = %v, want %v", st.SensorErr, sensorErr)
	}

	// Failed sessions never start ticking.
	time.Sleep(30 * time.Millisecond)
	if st := tr.Status(); st.State != StateFailed {
		t.Errorf("state = %v, want failed", st.State)
	}
}

func TestTrackerRecordsFixDeliveredDuringSubscribe(t *testing.T) {
	source := &eagerSource{pos: &Position{Lat: 44.8070, Lng: 20.4520}}
	tr := New(&fakeAPI{}, source, Options{PollInterval: 10 * time.Millisecond})

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	st := tr.Status()
	if st.Position == nil || st.Position.Lat != 44.8070 {
		t.Errorf("synchronous first fix dropped: %+v", st.Position)
	}
}

func TestTrackerStartTwice(t *testing.T) {
	source := &fakeSource{}
	tr := New(&fakeAPI{}, source, Options{PollInterval: 10 * time.Millisecond})

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	if err := tr.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}
