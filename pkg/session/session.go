// Package session implements the Driver -> Core surface: the embedding
// driver's only points of contact with the narrative runtime. A Session
// owns exactly one WorldState and one Coordinator and performs no I/O of
// its own beyond what a contributor's provider call does.
package session

import (
	"context"
	"fmt"
	"time"

	"orchestrator/pkg/coordinator"
	"orchestrator/pkg/scene"
	"orchestrator/pkg/snapshot"
	"orchestrator/pkg/storytypes"
)

// Options configures a new session at creation time.
type Options struct {
	Actor          string
	MemoryCapacity int
	Recorder       coordinator.Recorder
}

// Session pairs one WorldState with one Coordinator for the lifetime of a
// player's playthrough. It is not safe for concurrent use: turns are
// strictly sequential, per the coordinator's own scheduling contract.
type Session struct {
	repo   *scene.Repository
	world  *storytypes.WorldState
	coord  *coordinator.Coordinator
	memCap int
}

// NewSession starts a fresh session at startScene, rejecting an unknown
// starting location the same way a restored snapshot would.
func NewSession(repo *scene.Repository, startScene string, primary coordinator.Contributor, secondaries []coordinator.Contributor, policies map[string]coordinator.IsolationPolicy, opts Options) (*Session, error) {
	if !repo.Has(startScene) {
		return nil, fmt.Errorf("session: unknown start scene %q", startScene)
	}
	if opts.MemoryCapacity <= 0 {
		opts.MemoryCapacity = 200
	}
	actor := opts.Actor
	if actor == "" {
		actor = "player"
	}

	world := storytypes.NewWorldState(actor, startScene, opts.MemoryCapacity)
	coord, err := coordinator.New(primary, secondaries, policies)
	if err != nil {
		return nil, err
	}
	coord.SetRecorder(opts.Recorder)

	return &Session{repo: repo, world: world, coord: coord, memCap: opts.MemoryCapacity}, nil
}

// Advance resolves one player turn and returns the merged StoryEvent. A
// non-nil error means CorruptWorldState: the session is no longer usable
// and the driver must restore from a snapshot or start anew. deadline, if
// non-zero, bounds the turn's total wall-clock time; a contributor
// in-flight when it expires is cancelled and its contribution discarded,
// except primary effects already committed to WorldState.
func (s *Session) Advance(ctx context.Context, inputText string, deadline time.Duration) (storytypes.StoryEvent, error) {
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	return s.coord.Advance(ctx, s.world, inputText)
}

// Snapshot serialises the session's complete resumable state: WorldState,
// memory log, and the coordinator's turn/pending-queue/quarantine state.
func (s *Session) Snapshot(capturedAt int64) ([]byte, error) {
	snap := snapshot.Capture(s.world, s.coord, capturedAt)
	return snapshot.Marshal(snap)
}

// Restore replaces this session's WorldState and coordinator state from a
// previously captured snapshot. It rejects a snapshot whose location is
// unknown to the active repository, leaving the session's prior state
// untouched.
func (s *Session) Restore(data []byte) error {
	snap, err := snapshot.Unmarshal(data)
	if err != nil {
		return err
	}
	return snapshot.Restore(snap, s.world, s.coord, s.memCap, s.repo.Has)
}

// World returns the session's WorldState, for drivers and tests that need
// read access between turns (e.g. to render a status line). Callers must
// not mutate it directly; all mutation happens through Advance.
func (s *Session) World() *storytypes.WorldState { return s.world }

// Turn returns the current turn counter.
func (s *Session) Turn() int { return s.coord.Turn() }
