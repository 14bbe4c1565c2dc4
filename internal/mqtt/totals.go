package mqtt

import (
	"sync"
	"time"
)

// Totals is the per-day activity summary published on the stats topic.
type Totals struct {
	Day          string `json:"day"`
	Turns        int64  `json:"turns"`
	Failures     int64  `json:"failures"`
	ModelCalls   int64  `json:"modelCalls"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
}

// DailyTotals accumulates turn and token counts that reset at local
// midnight. It is safe for concurrent use.
type DailyTotals struct {
	mu  sync.Mutex
	cur Totals
	loc *time.Location
	now func() time.Time
}

// NewDailyTotals creates an accumulator using loc for midnight
// detection. If loc is nil, [time.Local] is used.
func NewDailyTotals(loc *time.Location) *DailyTotals {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTotals{loc: loc, now: time.Now}
	d.cur.Day = d.today()
	return d
}

// ModelCall records one provider response.
func (d *DailyTotals) ModelCall(inputTokens, outputTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.cur.ModelCalls++
	d.cur.InputTokens += int64(inputTokens)
	d.cur.OutputTokens += int64(outputTokens)
}

// TurnFinished records the end of a turn.
func (d *DailyTotals) TurnFinished(success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.cur.Turns++
	if !success {
		d.cur.Failures++
	}
}

// Snapshot returns the current totals after checking for midnight
// rollover.
func (d *DailyTotals) Snapshot() Totals {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.cur
}

func (d *DailyTotals) today() string {
	return d.now().In(d.loc).Format(time.DateOnly)
}

// maybeReset zeroes the counters if the local date has changed. Must
// be called with d.mu held.
func (d *DailyTotals) maybeReset() {
	if today := d.today(); today != d.cur.Day {
		d.cur = Totals{Day: today}
	}
}
