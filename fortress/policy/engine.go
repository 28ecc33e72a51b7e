// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package policy

import (
	"context"

	"github.com/google/uuid"
)

// SimulateTimeoutVersion is the engine version string that makes the hint
// engine hang past any deadline, for exercising the fail-closed path.
const SimulateTimeoutVersion = "simulate_timeout"

// Input is one evaluation request.
type Input struct {
	TenantID      uuid.UUID
	RepoID        uuid.UUID
	VersionID     uuid.UUID
	Action        Action
	Hint          Decision // optional caller hint; empty means no hint
	EngineVersion string
}

// Outcome is the engine's answer.
type Outcome struct {
	Decision Decision
	Source   DecisionSource
	Reason   string
}

// Engine decides whether a gated action may proceed. Implementations must
// honor ctx cancellation; the caller bounds the wait and abandons the
// result on timeout.
type Engine interface {
	Evaluate(ctx context.Context, input Input) (Outcome, error)
}

// HintEngine is the built-in engine: it follows the caller's hint and
// allows by default. The simulate_timeout engine version blocks until the
// context is cancelled.
type HintEngine struct{}

// Evaluate implements Engine.
func (HintEngine) Evaluate(ctx context.Context, input Input) (Outcome, error) {
	if input.EngineVersion == SimulateTimeoutVersion {
		<-ctx.Done()
		return Outcome{}, Error.Wrap(ctx.Err())
	}

	switch input.Hint {
	case DecisionAllow:
		return Outcome{Decision: DecisionAllow, Source: SourceHintAllow, Reason: "allowed by hint"}, nil
	case DecisionDeny:
		return Outcome{Decision: DecisionDeny, Source: SourceHintDeny, Reason: "denied by hint"}, nil
	case DecisionQuarantine:
		return Outcome{Decision: DecisionQuarantine, Source: SourceHintQuarantine, Reason: "quarantined by hint"}, nil
	case "":
		return Outcome{Decision: DecisionAllow, Source: SourceDefaultAllow, Reason: "no policy matched"}, nil
	default:
		return Outcome{}, ErrInvalidRequest.New("unknown hint %q", input.Hint)
	}
}
