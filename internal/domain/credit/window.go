package credit

import (
	"sort"
	"time"
)

const (
	WeekSpan  = 7 * 24 * time.Hour
	MonthSpan = 30 * 24 * time.Hour
)

const (
	spanDay = iota
	spanWeek
	spanMonth
	spanCount
)

// Cutoffs returns the inclusive lower bounds of the day (UTC calendar day),
// rolling week and rolling month windows at now.
func Cutoffs(now time.Time) (day, week, month time.Time) {
	u := now.UTC()
	day = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return day, now.Add(-WeekSpan), now.Add(-MonthSpan)
}

// ScanTotals computes window totals by scanning the ledger.
func ScanTotals(txns []Transaction, now time.Time) Totals {
	day, week, month := Cutoffs(now)
	var t Totals
	for i := range txns {
		tx := &txns[i]
		if !tx.IsSpend() {
			continue
		}
		if !tx.CreatedAt.Before(month) {
			t.Month += tx.Amount
		}
		if !tx.CreatedAt.Before(week) {
			t.Week += tx.Amount
		}
		if !tx.CreatedAt.Before(day) {
			t.Day += tx.Amount
		}
	}
	return t
}

type spend struct {
	at     time.Time
	amount int64
}

// Window keeps rolling spend totals for one user. Entries are held in time
// order; each window tracks the index of its first entry and a running sum,
// so advancing the clock only subtracts entries that fell out. A clock that
// moves backwards triggers a full recompute. Not safe for concurrent use.
type Window struct {
	entries []spend
	start   [spanCount]int
	sums    [spanCount]int64
	now     time.Time
}

// NewWindow builds a window from ledger entries as of now.
func NewWindow(txns []Transaction, now time.Time) *Window {
	w := &Window{}
	for i := range txns {
		if txns[i].IsSpend() {
			w.entries = append(w.entries, spend{at: txns[i].CreatedAt, amount: txns[i].Amount})
		}
	}
	sort.SliceStable(w.entries, func(i, j int) bool { return w.entries[i].at.Before(w.entries[j].at) })
	w.recompute(now)
	return w
}

func cutoffArray(now time.Time) [spanCount]time.Time {
	d, wk, m := Cutoffs(now)
	return [spanCount]time.Time{d, wk, m}
}

func (w *Window) recompute(now time.Time) {
	w.now = now
	cuts := cutoffArray(now)
	for s := range spanCount {
		cut := cuts[s]
		w.start[s] = sort.Search(len(w.entries), func(i int) bool { return !w.entries[i].at.Before(cut) })
		w.sums[s] = 0
		for _, e := range w.entries[w.start[s]:] {
			w.sums[s] += e.amount
		}
	}
	w.compact()
}

func (w *Window) advance(now time.Time) {
	if now.Before(w.now) {
		w.recompute(now)
		return
	}
	w.now = now
	cuts := cutoffArray(now)
	for s := range spanCount {
		for w.start[s] < len(w.entries) && w.entries[w.start[s]].at.Before(cuts[s]) {
			w.sums[s] -= w.entries[w.start[s]].amount
			w.start[s]++
		}
	}
	w.compact()
}

// compact drops entries older than the month window once they dominate.
func (w *Window) compact() {
	drop := w.start[spanMonth]
	if drop < 64 || drop*2 < len(w.entries) {
		return
	}
	w.entries = append(w.entries[:0:0], w.entries[drop:]...)
	for s := range spanCount {
		w.start[s] -= drop
	}
}

// Add records a completed debit.
func (w *Window) Add(at time.Time, amount int64) {
	if amount <= 0 {
		return
	}
	if n := len(w.entries); n > 0 && at.Before(w.entries[n-1].at) {
		i := sort.Search(n, func(i int) bool { return at.Before(w.entries[i].at) })
		w.entries = append(w.entries, spend{})
		copy(w.entries[i+1:], w.entries[i:])
		w.entries[i] = spend{at: at, amount: amount}
		w.recompute(w.now)
		return
	}

	w.entries = append(w.entries, spend{at: at, amount: amount})
	cuts := cutoffArray(w.now)
	for s := range spanCount {
		if at.Before(cuts[s]) {
			w.start[s] = len(w.entries)
			continue
		}
		w.sums[s] += amount
	}
}

// Totals returns the window sums as of now.
func (w *Window) Totals(now time.Time) Totals {
	w.advance(now)
	return Totals{Day: w.sums[spanDay], Week: w.sums[spanWeek], Month: w.sums[spanMonth]}
}

// Len reports the number of retained entries.
func (w *Window) Len() int { return len(w.entries) }
