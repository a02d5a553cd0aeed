package congress

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	defaultConfidence = 0.5
	defaultReason     = "No reasoning provided"
)

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// affirmative VOTE values. Anything else, including absence, counts as no.
var affirmatives = []string{"YES", "APPROVE", "ACCEPT"}

// ParseVote extracts a verdict from a persona's free-form response.
// Parsing is deliberately permissive: the first VOTE:/CONFIDENCE:/REASON:
// lines win, and any failure degrades to the conservative default
// (no, 0.5, "No reasoning provided") rather than returning an error, so a
// garbled or unreachable model never blocks the remaining members.
//
// Confidence given above 1 is treated as a percentage and divided by 100.
// This silently reads an intended literal "75" on a 75-point scale as 0.75;
// the ambiguity is inherited from the voting contract and left as is.
func ParseVote(raw string) Vote {
	vote := Vote{
		Approve:    false,
		Confidence: defaultConfidence,
		Reason:     defaultReason,
	}

	var haveVote, haveConfidence, haveReason bool
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)

		switch {
		case !haveVote && strings.HasPrefix(upper, "VOTE:"):
			haveVote = true
			value := strings.ToUpper(strings.TrimSpace(line[len("VOTE:"):]))
			for _, a := range affirmatives {
				if strings.HasPrefix(value, a) {
					vote.Approve = true
					break
				}
			}
		case !haveConfidence && strings.HasPrefix(upper, "CONFIDENCE:"):
			match := numberPattern.FindString(line[len("CONFIDENCE:"):])
			if match == "" {
				continue
			}
			value, err := strconv.ParseFloat(match, 64)
			if err != nil {
				continue
			}
			haveConfidence = true
			if value > 1 {
				value /= 100
			}
			if value < 0 {
				value = 0
			}
			if value > 1 {
				value = 1
			}
			vote.Confidence = value
		case !haveReason && strings.HasPrefix(upper, "REASON:"):
			reason := strings.TrimSpace(line[len("REASON:"):])
			if reason != "" {
				haveReason = true
				vote.Reason = reason
			}
		}
	}

	return vote
}
