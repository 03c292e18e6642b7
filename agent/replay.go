package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"mabletask/agent/models"
)

// ErrEmptyTrace is returned for a trace without a page URL.
var ErrEmptyTrace = errors.New("trace has no load url")

// Trace is a recorded page lifetime.
type Trace struct {
	Load      models.PageLoad          `json:"load"`
	Snapshots []models.SnapshotRequest `json:"snapshots"`
	Events    []models.HostEvent       `json:"events"`
	Track     []models.TrackRequest    `json:"track"`
}

// ReadTrace decodes a JSON trace.
func ReadTrace(r io.Reader) (*Trace, error) {
	var tr Trace
	if err := json.NewDecoder(r).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	if tr.Load.URL == "" {
		return nil, ErrEmptyTrace
	}
	return &tr, nil
}

// Replay drives a through tr and closes it. a must run on clock: the clock
// is moved forward to each timestamped event, so throttles, re-scans and
// engagement sampling fire as they did on the recorded page. After the last
// call the clock advances by settle before the page is closed.
func Replay(ctx context.Context, a *Agent, clock *FakeClock, tr *Trace, settle time.Duration) error {
	load := tr.Load
	if load.At.IsZero() {
		load.At = clock.Now()
	}
	a.Start(ctx, load)

	for _, s := range tr.Snapshots {
		switch s.Phase {
		case "interactive":
			a.Interactive(ctx, s.Snapshot)
		case "complete":
			a.Complete(ctx, s.Snapshot)
		}
	}

	for _, ev := range tr.Events {
		if !ev.At.IsZero() {
			if d := ev.At.Sub(clock.Now()); d > 0 {
				clock.Advance(d)
			}
		}
		a.Handle(ctx, ev)
	}

	for _, call := range tr.Track {
		a.Track(ctx, call.Action, call.Data)
	}

	clock.Advance(settle)
	return a.Close(ctx)
}
