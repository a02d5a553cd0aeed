package congress

import "time"

// Vote is one persona's verdict on one action under review.
type Vote struct {
	Persona    string  `json:"persona"`
	Approve    bool    `json:"approve"`
	Confidence float64 `json:"confidence"` // [0,1]
	Reason     string  `json:"reason"`
}

// Decision aggregates the three votes of one evaluation.
// Yes+No is always exactly PersonaCount.
type Decision struct {
	Votes     []Vote `json:"votes"`
	Approved  bool   `json:"approved"`
	Yes       int    `json:"yes"`
	No        int    `json:"no"`
	Unanimous bool   `json:"unanimous"`
}

// LowConfidence reports whether every vote fell back to the parse default.
// Downstream consumers should treat such a decision as advisory noise.
func (d Decision) LowConfidence() bool {
	for _, v := range d.Votes {
		if v.Confidence != defaultConfidence {
			return false
		}
	}
	return len(d.Votes) > 0
}

// VotingSession is the full record of one evaluation: inputs, outcome and
// position in the append-only log. Sessions are never mutated or deleted.
type VotingSession struct {
	Sequence     int       `json:"sequence"` // 1-based, strictly increasing
	DecisionType string    `json:"decision_type"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	Context      string    `json:"context"`
	Decision     Decision  `json:"decision"`
	Timestamp    time.Time `json:"timestamp"`
}
