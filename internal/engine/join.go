package engine

import "orchestra/pkg/models"

// JoinOutcome reports what a join task should do after one more of its
// inbound predecessors reaches a terminal state.
type JoinOutcome int

const (
	// JoinPending means not enough predecessors have arrived yet.
	JoinPending JoinOutcome = iota
	// JoinReady means the join's threshold is met; schedule the task.
	JoinReady
	// JoinUnsatisfiable means the remaining predecessors can no longer
	// reach the threshold; the join task goes ERROR.
	JoinUnsatisfiable
)

// RecordJoinArrival updates t's join counters for one more predecessor
// reaching a terminal state, and reports the resulting outcome
// (SPEC_FULL §4.4 "Join semantics").
func RecordJoinArrival(t *models.TaskExecution, predecessorSucceeded bool) JoinOutcome {
	t.JoinArrived++
	if predecessorSucceeded {
		t.JoinSatisfied++
	}

	if t.JoinIsAll {
		remaining := t.JoinTotal - t.JoinArrived
		if t.JoinSatisfied < t.JoinTotal && remaining == 0 {
			return JoinUnsatisfiable
		}
		if t.JoinArrived >= t.JoinTotal {
			return JoinReady
		}
		return JoinPending
	}

	if t.JoinSatisfied >= t.JoinRequired {
		return JoinReady
	}

	remaining := t.JoinTotal - t.JoinArrived
	possibleSuccesses := t.JoinSatisfied + remaining
	if possibleSuccesses < t.JoinRequired {
		return JoinUnsatisfiable
	}
	return JoinPending
}
