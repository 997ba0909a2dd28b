package datasync

import (
	"context"

	"github.com/campuskit/attendance/internal/biometric"
	"github.com/campuskit/attendance/internal/model"
)

// Match is one accepted identification candidate.
type Match struct {
	RegNo       string
	StudentName string
	FingerIndex int
	Score       int
	FAR         float64
}

// Identify compares a sample against every cached template and returns
// the best-scoring match that clears the minimum score and does not
// exceed the maximum false-accept-rate. Best-match-wins is the single
// matching policy for both online and offline paths.
//
// The scan is linear in template count; cancellation is checked between
// verify calls so a long identification can be aborted promptly.
func Identify(ctx context.Context, verifier biometric.Verifier, sample []byte, entries []model.CachedTemplate, minScore int, maxFAR float64) (Match, bool, error) {
	best := Match{Score: -1}
	found := false

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return Match{}, false, err
		}
		result, err := verifier.Verify(ctx, sample, entry.Template)
		if err != nil {
			return Match{}, false, err
		}
		if !result.IsMatch || result.Score < minScore || result.FAR > maxFAR {
			continue
		}
		if result.Score > best.Score {
			best = Match{
				RegNo:       entry.RegNo,
				StudentName: entry.StudentName,
				FingerIndex: entry.FingerIndex,
				Score:       result.Score,
				FAR:         result.FAR,
			}
			found = true
		}
	}

	if !found {
		return Match{}, false, nil
	}
	return best, true, nil
}
