package session

import "hash/fnv"

// GuardAction is the repetition guard's verdict for the latest tool call.
type GuardAction int

const (
	// GuardOK means the call shows no harmful repetition.
	GuardOK GuardAction = iota
	// GuardWarn means the threshold was reached; the loop should inject a
	// corrective system note before the next completion.
	GuardWarn
	// GuardTerminate means the agent ignored the warning; the loop must end
	// the session with a repetition failure.
	GuardTerminate
)

// RepetitionGuard detects a loop invoking the same tool with materially
// identical arguments while the conversation state is not changing.
type RepetitionGuard struct {
	threshold   int
	lastCall    uint64
	lastOutput  uint64
	consecutive int
	warned      bool
}

// NewRepetitionGuard creates a guard that warns once threshold consecutive
// identical calls are observed and terminates on the next one.
func NewRepetitionGuard(threshold int) *RepetitionGuard {
	if threshold <= 0 {
		threshold = 3
	}
	return &RepetitionGuard{threshold: threshold}
}

// RecordCall registers a tool invocation and its result output, returning the
// guard's verdict. A call counts as a repeat only when tool and arguments
// match the previous call and the tool output did not change.
func (g *RepetitionGuard) RecordCall(tool, args, output string) GuardAction {
	call := hashPair(tool, args)
	out := hash(output)

	if g.consecutive > 0 && call == g.lastCall && out == g.lastOutput {
		g.consecutive++
	} else {
		g.consecutive = 1
		g.warned = false
	}
	g.lastCall = call
	g.lastOutput = out

	if g.consecutive <= g.threshold-1 {
		return GuardOK
	}
	if !g.warned {
		g.warned = true
		return GuardWarn
	}
	return GuardTerminate
}

// Reset clears all tracked state, e.g. after a corrective note changed the
// conversation.
func (g *RepetitionGuard) Reset() {
	g.consecutive = 0
	g.warned = false
}

func hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func hashPair(a, b string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(a))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(b))
	return h.Sum64()
}
