package tracker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Position is one fix from the device position stream.
type Position struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
}

// PositionSource is a cancellable subscription to a continuous position
// stream: updates arrive as the device moves, not as one-shot reads.
// Implementations must stop delivering callbacks after cancel returns.
type PositionSource interface {
	Subscribe(onUpdate func(Position), onError func(error)) (cancel func(), err error)
}

// ReplaySource replays JSON-line positions from a reader at a fixed
// cadence. It stands in for a real GPS feed in the agent binary and in
// tests.
type ReplaySource struct {
	r        io.Reader
	interval time.Duration
	loop     bool
}

func NewReplaySource(r io.Reader, interval time.Duration, loop bool) *ReplaySource {
	return &ReplaySource{r: r, interval: interval, loop: loop}
}

func (s *ReplaySource) Subscribe(onUpdate func(Position), onError func(error)) (func(), error) {
	var positions []Position

	scanner := bufio.NewScanner(s.r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p Position
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, fmt.Errorf("parse position line: %w", err)
		}
		positions = append(positions, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("position stream is empty")
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		i := 0
		onUpdate(positions[i])
		i++

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if i >= len(positions) {
					if !s.loop {
						return
					}
					i = 0
				}
				onUpdate(positions[i])
				i++
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}, nil
}
