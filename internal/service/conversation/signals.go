package conversation

import "strings"

// SignalKind categorizes a reference to older context.
type SignalKind string

const (
	// SignalImplicit marks a vague back-reference ("that thing we discussed").
	SignalImplicit SignalKind = "implicit"
	// SignalTemporal marks a time-anchored reference within the session.
	SignalTemporal SignalKind = "temporal"
	// SignalCrossSession marks a reference reaching into prior conversations.
	SignalCrossSession SignalKind = "cross-session"
)

// Signal is one detected reference to older context.
type Signal struct {
	Kind       SignalKind
	Trigger    string
	Confidence float64
}

// signalPattern is one row of the detection table: a lowercase phrase, its
// category, and the confidence assigned on match.
type signalPattern struct {
	phrase     string
	kind       SignalKind
	confidence float64
}

// signalTable is evaluated in order; a message may match several rows.
// Cross-session phrases carry 0.9, long or specific implicit phrases 0.8,
// everything else 0.7.
var signalTable = []signalPattern{
	{"remember when", SignalCrossSession, 0.9},
	{"last week", SignalCrossSession, 0.9},
	{"last month", SignalCrossSession, 0.9},
	{"last time we", SignalCrossSession, 0.9},
	{"in a previous conversation", SignalCrossSession, 0.9},
	{"in our last conversation", SignalCrossSession, 0.9},
	{"previously you said", SignalCrossSession, 0.9},
	{"a while back", SignalCrossSession, 0.9},

	{"earlier in this conversation", SignalTemporal, 0.8},
	{"earlier today", SignalTemporal, 0.7},
	{"this morning", SignalTemporal, 0.7},
	{"yesterday", SignalTemporal, 0.7},
	{"a moment ago", SignalTemporal, 0.7},
	{"just now", SignalTemporal, 0.7},

	{"that thing we discussed", SignalImplicit, 0.8},
	{"what we talked about before", SignalImplicit, 0.8},
	{"as we discussed", SignalImplicit, 0.7},
	{"as i mentioned", SignalImplicit, 0.7},
	{"you mentioned", SignalImplicit, 0.7},
	{"we talked about", SignalImplicit, 0.7},
	{"like you said", SignalImplicit, 0.7},
	{"going back to", SignalImplicit, 0.7},
}

// DetectSignals scans text for references to older context. Each matching
// table row yields one signal; a message may produce several.
func DetectSignals(text string) []Signal {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var signals []Signal
	for _, row := range signalTable {
		if strings.Contains(lower, row.phrase) {
			signals = append(signals, Signal{
				Kind:       row.kind,
				Trigger:    row.phrase,
				Confidence: row.confidence,
			})
		}
	}
	return signals
}
