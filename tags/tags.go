// Package tags owns the tag records produced by a reader driver: the
// single "current" tag believed to be in the RF field, and the history
// of every tag observed since the last clear. Bank readings arrive as
// partial observations and are fused into coherent records over time.
package tags

import (
	"bytes"
	"time"
)

// Bank sizes and timing for UHF Gen-2 tags as the SM-6210 exposes them.
const (
	EPCLength        = 12
	TIDLength        = 12
	RFULength        = 8
	UserLength       = 64
	NumUserDatagrams = 4

	// CurrentTagTimeout is the watchdog period: with no bank update for
	// this long the current tag is considered gone from the field.
	CurrentTagTimeout = time.Second
)

// Tag is one transponder's accumulated memory contents. Empty fields
// have not been observed yet. The user bank is split into four 16-byte
// datagrams addressed by wordStart/8.
type Tag struct {
	EPC  []byte
	TID  []byte
	RFU  []byte
	User [NumUserDatagrams][]byte
}

// Identified reports whether the tag carries any identifying data.
func (t *Tag) Identified() bool {
	return len(t.TID) > 0 || len(t.EPC) > 0
}

// UserData concatenates the user datagrams in index order, including
// the ones not yet observed.
func (t *Tag) UserData() []byte {
	var data []byte
	for i := 0; i < NumUserDatagrams; i++ {
		data = append(data, t.User[i]...)
	}
	return data
}

// Notifier carries the aggregator's change callbacks. Nil funcs are
// skipped. All callbacks fire synchronously from the mutating call.
type Notifier struct {
	CurrentTagChanged func()
	TagCountChanged   func(count int)
	TagUpdated        func()
}

// Aggregator fuses bank readings into tag records. It owns the history
// list and the current-tag pointer; callers must serialise access (the
// facade runs it under its own lock).
type Aggregator struct {
	notifier Notifier
	tags     []*Tag
	current  *Tag
	deadline time.Time
	now      func() time.Time
}

// NewAggregator returns an aggregator with an armed watchdog.
func NewAggregator(n Notifier) *Aggregator {
	a := &Aggregator{notifier: n, now: time.Now}
	a.deadline = a.now().Add(CurrentTagTimeout)
	return a
}

// CurrentTag returns the tag currently in the field, or nil.
func (a *Aggregator) CurrentTag() *Tag {
	return a.current
}

// HasCurrentTag reports whether a tag is currently in the field.
func (a *Aggregator) HasCurrentTag() bool {
	return a.current != nil
}

// History returns the observed tags in insertion order.
func (a *Aggregator) History() []*Tag {
	out := make([]*Tag, len(a.tags))
	copy(out, a.tags)
	return out
}

// TagCount returns the number of tags in history.
func (a *Aggregator) TagCount() int {
	return len(a.tags)
}

// Clear drops the history and the current tag.
func (a *Aggregator) Clear() {
	a.tags = nil
	if a.current != nil {
		a.current = nil
		a.notifyCurrentTagChanged()
	}
	a.rearm()
	a.notifyTagCountChanged()
}

// Tick runs the current-tag watchdog. The facade calls it from the
// scan loop; on expiry the current tag is cleared, history is kept.
func (a *Aggregator) Tick() {
	if a.now().Before(a.deadline) {
		return
	}
	a.rearm()
	if a.current != nil {
		a.current = nil
		a.notifyCurrentTagChanged()
	}
}

// OnEPC records an EPC observation.
func (a *Aggregator) OnEPC(epc []byte) {
	a.observe(func(t *Tag) *[]byte { return &t.EPC }, epc)
}

// OnTID records a transponder-id observation.
func (a *Aggregator) OnTID(tid []byte) {
	a.observe(func(t *Tag) *[]byte { return &t.TID }, tid)
}

// OnRFU records a reserved-bank observation.
func (a *Aggregator) OnRFU(rfu []byte) {
	a.observe(func(t *Tag) *[]byte { return &t.RFU }, rfu)
}

// OnUser records one user-bank datagram. Out-of-range datagram indexes
// never reach this point; the driver discards them.
func (a *Aggregator) OnUser(data []byte, datagram int) {
	if datagram < 0 || datagram >= NumUserDatagrams {
		return
	}
	a.observe(func(t *Tag) *[]byte { return &t.User[datagram] }, data)
}

// observe is the fusion step shared by all banks. field selects the
// slot the payload belongs to on any given record.
func (a *Aggregator) observe(field func(*Tag) *[]byte, payload []byte) {
	a.rearm()

	// No tag in the field: this observation starts a fresh record.
	if a.current == nil {
		r := &Tag{}
		*field(r) = cloneBytes(payload)
		a.register(r)
		return
	}

	slot := field(a.current)

	// The current tag already has different data in this slot, so the
	// reader is looking at a different transponder now.
	if len(*slot) > 0 && !bytes.Equal(*slot, payload) {
		r := &Tag{}
		*field(r) = cloneBytes(payload)
		a.register(r)
		return
	}

	// Refine the current record.
	if len(payload) > 0 && !bytes.Equal(*slot, payload) {
		*slot = cloneBytes(payload)
		a.notifyTagUpdated()
	}
	a.register(a.current)
}

// register merges r into history, deduplicates, and makes the merged
// record current.
func (a *Aggregator) register(r *Tag) {
	merged := r
	known := false
	for _, h := range a.tags {
		if h == r {
			known = true
			break
		}
		if sameIdentity(h, r) {
			if mergeInto(h, r) {
				a.notifyTagUpdated()
			}
			merged = h
			known = true
			break
		}
	}

	if !known {
		a.tags = append(a.tags, r)
		a.notifyTagCountChanged()
	}

	a.dedupe()

	if a.current != merged {
		a.current = merged
		a.notifyCurrentTagChanged()
	}
}

// dedupe removes later history entries whose transponder id duplicates
// an earlier one.
func (a *Aggregator) dedupe() {
	removed := false
	for i := 0; i < len(a.tags); i++ {
		for j := i + 1; j < len(a.tags); {
			dup := a.tags[i] == a.tags[j] ||
				(len(a.tags[i].TID) > 0 && bytes.Equal(a.tags[i].TID, a.tags[j].TID))
			if dup {
				a.tags = append(a.tags[:j], a.tags[j+1:]...)
				removed = true
				continue
			}
			j++
		}
	}
	if removed {
		a.notifyTagCountChanged()
	}
}

// sameIdentity reports whether two records describe the same
// transponder. Only non-empty identity fields participate.
func sameIdentity(a, b *Tag) bool {
	if len(a.EPC) > 0 && len(b.EPC) > 0 && bytes.Equal(a.EPC, b.EPC) {
		return true
	}
	if len(a.TID) > 0 && len(b.TID) > 0 && bytes.Equal(a.TID, b.TID) {
		return true
	}
	return false
}

// mergeInto copies non-empty fields of src into dst and reports
// whether dst changed.
func mergeInto(dst, src *Tag) bool {
	changed := false
	changed = mergeField(&dst.EPC, src.EPC) || changed
	changed = mergeField(&dst.TID, src.TID) || changed
	changed = mergeField(&dst.RFU, src.RFU) || changed
	for i := 0; i < NumUserDatagrams; i++ {
		changed = mergeField(&dst.User[i], src.User[i]) || changed
	}
	return changed
}

func mergeField(dst *[]byte, src []byte) bool {
	if len(src) == 0 || bytes.Equal(*dst, src) {
		return false
	}
	*dst = cloneBytes(src)
	return true
}

func (a *Aggregator) rearm() {
	a.deadline = a.now().Add(CurrentTagTimeout)
}

func cloneBytes(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

func (a *Aggregator) notifyCurrentTagChanged() {
	if a.notifier.CurrentTagChanged != nil {
		a.notifier.CurrentTagChanged()
	}
}

func (a *Aggregator) notifyTagCountChanged() {
	if a.notifier.TagCountChanged != nil {
		a.notifier.TagCountChanged(len(a.tags))
	}
}

func (a *Aggregator) notifyTagUpdated() {
	if a.notifier.TagUpdated != nil {
		a.notifier.TagUpdated()
	}
}
