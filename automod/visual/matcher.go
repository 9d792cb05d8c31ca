package visual

import (
	"context"
	"math"
	"sort"
	"time"
)

const (
	DefaultRatio     = 0.7
	DefaultSlope     = 0.5
	DefaultOffset    = 20.0
	DefaultThreshold = 0.75
)

// Decoded descriptors for one image, with enough provenance to report a match.
type ImageDescriptors struct {
	ImageID      uint
	SubmissionID string
	CreatedUTC   int64
	URL          string
	Descriptors  *Descriptors
}

// A corpus image which matched a query image above threshold.
type Candidate struct {
	QueryImageID uint    `json:"query_image_id"`
	ImageID      uint    `json:"image_id"`
	SubmissionID string  `json:"submission_id"`
	CreatedUTC   int64   `json:"created_utc"`
	URL          string  `json:"url"`
	Score        float64 `json:"score"`
	Count        int     `json:"count"`
}

// Two-stage duplicate matcher: a coarse approximate nearest-neighbor pass over the whole corpus selects candidate images, then an exact pass against each candidate produces a match count, mapped to a similarity score by a logistic curve.
type Matcher struct {
	// Lowe's ratio test: a descriptor match is accepted if best < Ratio * second-best
	Ratio  float64
	Slope  float64
	Offset float64
}

func NewMatcher() *Matcher {
	return &Matcher{
		Ratio:  DefaultRatio,
		Slope:  DefaultSlope,
		Offset: DefaultOffset,
	}
}

// Maps a count of accepted descriptor matches to a similarity score in (0, 1).
func (m *Matcher) Sigmoid(count int) float64 {
	return 1.0 / (1.0 + math.Exp(-m.Slope*(float64(count)-m.Offset)))
}

// Finds corpus images matching each query image with a score above threshold. The result maps query image ID to candidates, best first; query images without matches are omitted.
//
// ctx is checked between images, so a revoked job stops promptly.
func (m *Matcher) FindDuplicates(ctx context.Context, query, corpus []ImageDescriptors, threshold float64) (map[uint][]Candidate, error) {
	start := time.Now()
	defer func() {
		matchDuration.Observe(time.Since(start).Seconds())
	}()

	out := make(map[uint][]Candidate)
	if len(query) == 0 || len(corpus) == 0 {
		return out, nil
	}

	descs := make([]*Descriptors, len(corpus))
	for i, c := range corpus {
		descs[i] = c.Descriptors
	}
	gi := newGroupIndex(descs)
	if gi.size == 0 {
		return out, nil
	}

	for _, q := range query {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.Descriptors.Len() == 0 {
			continue
		}

		// coarse stage: tally ratio-test matches per corpus image
		tally := make(map[int]int)
		for r := 0; r < q.Descriptors.Len(); r++ {
			nn := gi.nearest2(q.Descriptors.Row(r))
			if len(nn) < 2 {
				continue
			}
			if nn[0].dist < m.Ratio*nn[1].dist {
				tally[nn[0].image]++
			}
		}

		// fine stage: exact matching against each candidate image
		var cands []Candidate
		for img := range tally {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			count := m.countMatches(q.Descriptors, corpus[img].Descriptors)
			score := m.Sigmoid(count)
			if score > threshold {
				cands = append(cands, Candidate{
					QueryImageID: q.ImageID,
					ImageID:      corpus[img].ImageID,
					SubmissionID: corpus[img].SubmissionID,
					CreatedUTC:   corpus[img].CreatedUTC,
					URL:          corpus[img].URL,
					Score:        score,
					Count:        count,
				})
			}
		}
		if len(cands) == 0 {
			continue
		}
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].Score != cands[j].Score {
				return cands[i].Score > cands[j].Score
			}
			return cands[i].ImageID < cands[j].ImageID
		})
		out[q.ImageID] = cands
	}
	return out, nil
}

// number of query descriptors passing the ratio test against train
func (m *Matcher) countMatches(query, train *Descriptors) int {
	count := 0
	for r := 0; r < query.Len(); r++ {
		best, second, ok := bruteNearest2(query.Row(r), train)
		if !ok {
			return 0
		}
		if best < m.Ratio*second {
			count++
		}
	}
	return count
}
