// internal/catalog/scoring.go
package catalog

import (
	"encoding/json"
	"math"
)

const (
	machinePut  = "put"
	machineDont = "dont"

	pdConfess = "confess"
	pdDeny    = "deny"

	trustDefault = 5
	trustMax     = 10
)

func zeroScore(_, _ json.RawMessage) Scores {
	return Scores{}
}

// machineScore: putting a coin costs the putter 5 and pays the other player 15.
func machineScore(server, client json.RawMessage) Scores {
	var s Scores
	if stringAction(server, machineDont) == machinePut {
		s.Server -= 5
		s.Client += 15
	}
	if stringAction(client, machineDont) == machinePut {
		s.Client -= 5
		s.Server += 15
	}
	return s
}

// prisonersDilemmaScore returns years lost, as negative scores.
func prisonersDilemmaScore(server, client json.RawMessage) Scores {
	sa := stringAction(server, pdConfess)
	ca := stringAction(client, pdConfess)
	switch {
	case sa == pdDeny && ca == pdDeny:
		return Scores{Server: -5, Client: -5}
	case sa == pdDeny && ca == pdConfess:
		return Scores{Server: -20, Client: 0}
	case sa == pdConfess && ca == pdDeny:
		return Scores{Server: 0, Client: -20}
	case sa == pdConfess && ca == pdConfess:
		return Scores{Server: -10, Client: -10}
	}
	return Scores{}
}

// trustScore: the server sends s out of 10, which triples; the client returns c.
// Both amounts are whole numbers in [0, 10].
func trustScore(server, client json.RawMessage) Scores {
	s := intAction(server, trustDefault, 0, trustMax)
	c := intAction(client, trustDefault, 0, trustMax)
	return Scores{
		Server: 10 - s + c,
		Client: 3*s - c,
	}
}

func stringAction(a json.RawMessage, def string) string {
	var v string
	if err := json.Unmarshal(a, &v); err != nil {
		return def
	}
	return v
}

// intAction falls back to def unless a is a whole number within [lo, hi].
func intAction(a json.RawMessage, def, lo, hi int) int {
	var v float64
	if err := json.Unmarshal(a, &v); err != nil {
		return def
	}
	if v < float64(lo) || v > float64(hi) || v != math.Trunc(v) {
		return def
	}
	return int(v)
}
