// Package disguise renders decrypted messages as innocuous spreadsheet
// notes unless the viewer performs a deliberate reveal gesture. This is
// cosmetic concealment against over-the-shoulder viewing, not a security
// boundary: anyone with store access sees only ciphertext regardless.
package disguise

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// decoyNotes is the fixed, shared phrase table. Both sides of a channel
// ship the same table, so the mapping is identical everywhere.
var decoyNotes = []string{
	"Updated quarterly projections",
	"Fixed calculation error",
	"Added new expense category",
	"Verified with accounting",
	"Adjusted for inflation rate",
	"Included tax considerations",
	"Referenced last month's data",
	"Normalized for seasonal variance",
	"Applied department guidelines",
	"Corrected formula reference",
	"Reconciled with bank statement",
	"Added footnote for clarification",
	"Implemented manager's feedback",
	"Standardized formatting",
	"Updated currency conversion",
}

// detailThreshold is the plaintext length above which the decoy combines
// two table entries to read like a more detailed note.
const detailThreshold = 50

// Disguise maps plaintext to a decoy note. Pure and deterministic: the same
// input always produces the same decoy, on every client. Decrypt-failure
// placeholders pass through like any other text and land on a stable decoy.
func Disguise(plaintext string) string {
	idx := len(plaintext) % len(decoyNotes)
	if len(plaintext) > detailThreshold {
		second := (len(plaintext) * 2) % len(decoyNotes)
		return decoyNotes[idx] + "; " + strings.ToLower(decoyNotes[second])
	}
	return decoyNotes[idx]
}

// FakeNote returns a random decoy for cells that never held a message.
func FakeNote() string {
	return decoyNotes[rand.Intn(len(decoyNotes))]
}

// PlausibleFormula produces a formula string for a grid cell so the
// surrounding document looks worked-in. Deterministic per cell.
func PlausibleFormula(row int, col string) string {
	if col == "" {
		col = "A"
	}
	c := col[0]
	formulas := []string{
		fmt.Sprintf("=SUM(%s1:%s%d)", col, col, row),
		fmt.Sprintf("=AVERAGE(%s1:%s%d)", col, col, row),
		fmt.Sprintf(`=IF(%s%d>100,"High","Low")`, col, row),
		fmt.Sprintf("=VLOOKUP(%s%d,A1:F10,2,FALSE)", col, row),
		fmt.Sprintf("=%c%d*1.05", c-1, row),
	}
	return formulas[(row+int(c))%len(formulas)]
}

// PointerEvent describes a pointer action for reveal-trigger checks.
type PointerEvent struct {
	Alt bool // modifier held during the action
}

// IsRevealTrigger reports whether a pointer action is the deliberate reveal
// gesture (a modifier-qualified click on desktop).
func IsRevealTrigger(e PointerEvent) bool {
	return e.Alt
}

// DefaultPressThreshold is how long a touch press must be sustained to
// count as the reveal gesture.
const DefaultPressThreshold = 800 * time.Millisecond

// PressTracker detects the sustained-press reveal gesture on touch input.
// Movement during the press cancels it. Not safe for concurrent use; a
// tracker belongs to a single input stream.
type PressTracker struct {
	threshold time.Duration
	now       func() time.Time
	startedAt time.Time
	active    bool
}

// PressOption configures a PressTracker.
type PressOption func(*PressTracker)

// WithThreshold overrides the press duration threshold.
func WithThreshold(d time.Duration) PressOption {
	return func(p *PressTracker) { p.threshold = d }
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) PressOption {
	return func(p *PressTracker) { p.now = now }
}

// NewPressTracker returns a tracker with the default 800ms threshold.
func NewPressTracker(opts ...PressOption) *PressTracker {
	p := &PressTracker{threshold: DefaultPressThreshold, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins tracking a press.
func (p *PressTracker) Start() {
	p.active = true
	p.startedAt = p.now()
}

// Move cancels an in-progress press.
func (p *PressTracker) Move() {
	p.active = false
}

// End finishes the press and reports whether it qualified as the reveal
// gesture.
func (p *PressTracker) End() bool {
	if !p.active {
		return false
	}
	p.active = false
	return p.now().Sub(p.startedAt) >= p.threshold
}

// Gate holds the process-local reveal state. It is never persisted and
// never synced between clients: each viewer reveals independently.
type Gate struct {
	revealed bool
}

// Toggle flips the reveal state and returns the new value.
func (g *Gate) Toggle() bool {
	g.revealed = !g.revealed
	return g.revealed
}

// Hide clears the reveal state immediately (the explicit cancel key).
func (g *Gate) Hide() {
	g.revealed = false
}

// Revealed reports the current reveal state.
func (g *Gate) Revealed() bool {
	return g.revealed
}

// Render returns the text a viewer should see for the given plaintext.
func (g *Gate) Render(plaintext string) string {
	if g.revealed {
		return plaintext
	}
	return Disguise(plaintext)
}
