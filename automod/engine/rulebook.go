package engine

import (
	"sync"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
)

// Per-evaluation shared state: the one-shot latches every rule may set or await, and the collected results.
//
// Results are stored in fixed slots (one per catalogue entry), so composition order never depends on which rule finished first.
type RuleBook struct {
	Removal *Latch
	Warning *Latch
	Skip    *Latch
	Halt    *Latch

	lk         sync.Mutex
	flair      string
	results    []*Result
	haltStatus platform.Status
}

func NewRuleBook(slots int) *RuleBook {
	return &RuleBook{
		Removal: NewLatch(),
		Warning: NewLatch(),
		Skip:    NewLatch(),
		Halt:    NewLatch(),
		results: make([]*Result, slots),
	}
}

func (b *RuleBook) setFlairSection(section string) {
	b.lk.Lock()
	b.flair = section
	b.lk.Unlock()
	b.Removal.Set()
}

// Records a rule result, setting the removal or warning latch as appropriate.
func (b *RuleBook) record(slot int, res *Result) {
	b.lk.Lock()
	b.results[slot] = res
	b.lk.Unlock()
	if res.Outcome == nil || res.Outcome.Fragment == "" {
		return
	}
	if res.Outcome.Warning {
		b.Warning.Set()
	} else {
		b.Removal.Set()
	}
}

func (b *RuleBook) halt(st platform.Status) {
	b.lk.Lock()
	b.haltStatus = st
	b.lk.Unlock()
	b.Halt.Set()
}

func (b *RuleBook) Results() []Result {
	b.lk.Lock()
	defer b.lk.Unlock()
	var out []Result
	for _, r := range b.results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Builds the decision from everything recorded so far. Must only be called once all rules have returned.
func (b *RuleBook) decide(subreddit string) *Decision {
	b.lk.Lock()
	defer b.lk.Unlock()

	if b.Halt.IsSet() {
		return &Decision{
			Action:     ActionSkip,
			Halted:     true,
			HaltStatus: b.haltStatus,
			Reason:     "moderated externally during evaluation",
		}
	}

	d := &Decision{}
	if b.flair != "" {
		d.Fragments = append(d.Fragments, b.flair)
	}
	for _, r := range b.results {
		if r == nil {
			continue
		}
		if r.Err != nil {
			d.Errors = append(d.Errors, r.Err)
		}
		if r.Outcome == nil || r.Outcome.Fragment == "" {
			continue
		}
		if r.Outcome.Warning {
			d.Warnings = append(d.Warnings, r.Outcome.Fragment)
			d.WarningRules = append(d.WarningRules, r.Rule)
		} else {
			d.Fragments = append(d.Fragments, r.Outcome.Fragment)
		}
	}

	if b.Removal.IsSet() && len(d.Fragments) > 0 {
		d.Action = ActionRemove
		d.Comment = ComposeComment(subreddit, d.Fragments, d.Warnings)
	} else {
		d.Action = ActionClear
	}
	return d
}
