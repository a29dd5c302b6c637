package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/runmates/runmates/internal/logger"
)

// State of a tracking session.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateStopped
	// StateFailed means the position subscription itself broke
	// (permission denied, sensor unavailable). Terminal: the user must
	// explicitly start a new session.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var ErrAlreadyStarted = errors.New("tracker already started")

// Options configures one tracking session.
type Options struct {
	PollInterval time.Duration
	RadiusKm     float64
	// FallbackOrigin, when set, is used for pulls before the first fix
	// arrives. Pushes never use it.
	FallbackOrigin *Position
}

// Status is an observable snapshot of the session. Sync failures land
// here instead of being swallowed, so "last pull failed" is assertable
// without log scraping.
type Status struct {
	SessionID   string
	State       State
	Position    *Position
	Nearby      []NearbyUser
	LastPushErr error
	LastPullErr error
	SensorErr   error
}

// Tracker owns the device position subscription and the push/pull sync
// loop against the server. Sensor updates only record local state; the
// poll ticker drives network traffic, decoupling sensor frequency from
// network frequency.
type Tracker struct {
	opts   Options
	api    API
	source PositionSource

	mu          sync.Mutex
	state       State
	gen         uint64
	pos         *Position
	nearby      []NearbyUser
	lastPushErr error
	lastPullErr error
	sensorErr   error
	sessionID   string
	cancelSub   func()
	cancelLoop  context.CancelFunc
}

func New(api API, source PositionSource, opts Options) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.RadiusKm <= 0 {
		opts.RadiusKm = 5
	}
	return &Tracker{
		opts:   opts,
		api:    api,
		source: source,
		state:  StateIdle,
	}
}

// Start subscribes to the position stream and begins the poll loop.
// The session enters Watching before Subscribe is called: a source may
// deliver its first update, or fail, synchronously during Subscribe,
// and neither may be dropped.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.sessionID = uuid.NewString()
	t.state = StateWatching
	t.mu.Unlock()

	cancelSub, err := t.source.Subscribe(t.onPosition, t.onSensorError)
	if err != nil {
		t.mu.Lock()
		t.state = StateFailed
		t.sensorErr = err
		t.mu.Unlock()
		return err
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)

	t.mu.Lock()
	if t.state != StateWatching {
		// The source reported failure while we were subscribing.
		err := t.sensorErr
		t.mu.Unlock()
		cancelLoop()
		cancelSub()
		return err
	}
	t.cancelSub = cancelSub
	t.cancelLoop = cancelLoop
	t.mu.Unlock()

	log := logger.GetLogger("tracker")
	log.Infow("Tracking session started", "session_id", t.sessionID, "interval", t.opts.PollInterval)

	go t.loop(loopCtx)
	return nil
}

// Stop cancels the subscription and the poll timer. In-flight push/pull
// calls are not force-aborted, but bumping the generation guarantees
// their late results are discarded.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.state != StateWatching {
		t.mu.Unlock()
		return
	}
	t.state = StateStopped
	t.gen++
	cancelSub := t.cancelSub
	cancelLoop := t.cancelLoop
	t.mu.Unlock()

	if cancelSub != nil {
		cancelSub()
	}
	if cancelLoop != nil {
		cancelLoop()
	}

	logger.GetLogger("tracker").Infow("Tracking session stopped", "session_id", t.sessionID)
}

// Status returns a snapshot of the session.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pos *Position
	if t.pos != nil {
		p := *t.pos
		pos = &p
	}
	nearby := make([]NearbyUser, len(t.nearby))
	copy(nearby, t.nearby)

	return Status{
		SessionID:   t.sessionID,
		State:       t.state,
		Position:    pos,
		Nearby:      nearby,
		LastPushErr: t.lastPushErr,
		LastPullErr: t.lastPullErr,
		SensorErr:   t.sensorErr,
	}
}

func (t *Tracker) onPosition(p Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateWatching {
		return
	}
	t.pos = &p
}

// onSensorError marks the session failed. No automatic retry: a silent
// retry loop would mislead the user into thinking tracking is active.
func (t *Tracker) onSensorError(err error) {
	t.mu.Lock()
	if t.state != StateWatching {
		t.mu.Unlock()
		return
	}
	t.state = StateFailed
	t.sensorErr = err
	t.gen++
	cancelSub := t.cancelSub
	cancelLoop := t.cancelLoop
	t.mu.Unlock()

	if cancelSub != nil {
		cancelSub()
	}
	if cancelLoop != nil {
		cancelLoop()
	}

	logger.GetLogger("tracker").Errorw("Position subscription failed", "session_id", t.sessionID, "error", err)
}

func (t *Tracker) loop(ctx context.Context) {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	t.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// tick fires one push and one pull concurrently, both best-effort. The
// generation counter supersedes the previous tick's in-flight calls: a
// result is applied only if its generation is still current, so a stale
// tick's response can never overwrite a newer one or land after stop.
func (t *Tracker) tick(ctx context.Context) {
	t.mu.Lock()
	if t.state != StateWatching {
		t.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	var pos *Position
	if t.pos != nil {
		p := *t.pos
		pos = &p
	}
	t.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, t.opts.PollInterval)

	var wg sync.WaitGroup

	if pos != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := t.api.PushLocation(callCtx, *pos)
			t.applyPush(gen, err)
		}()
	}

	origin := pos
	if origin == nil {
		origin = t.opts.FallbackOrigin
	}
	if origin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := t.api.FetchNearby(callCtx, origin.Lat, origin.Lng, t.opts.RadiusKm)
			t.applyPull(gen, result, err)
		}()
	}

	go func() {
		wg.Wait()
		cancel()
	}()
}

func (t *Tracker) applyPush(gen uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.state != StateWatching {
		return
	}
	t.lastPushErr = err
	if err != nil {
		// Transient: the next tick retries naturally.
		logger.GetLogger("tracker").Warnw("Location push failed", "session_id", t.sessionID, "error", err)
	}
}

func (t *Tracker) applyPull(gen uint64, result *NearbyResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.state != StateWatching {
		return
	}
	if err != nil {
		// Keep the previous candidate set; surface the failure in
		// Status instead of crashing the session.
		t.lastPullErr = err
		logger.GetLogger("tracker").Warnw("Nearby pull failed", "session_id", t.sessionID, "error", err)
		return
	}
	t.lastPullErr = nil
	t.nearby = result.Users
}
