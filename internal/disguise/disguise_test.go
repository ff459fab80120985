package disguise

import (
	"strings"
	"testing"
	"time"
)

func TestDisguiseDeterministic(t *testing.T) {
	a := Disguise("meet at 5")
	b := Disguise("meet at 5")
	if a != b {
		t.Fatalf("same plaintext produced different decoys: %q vs %q", a, b)
	}
}

func TestDisguiseUsesTable(t *testing.T) {
	d := Disguise("meet at 5")
	found := false
	for _, note := range decoyNotes {
		if d == note {
			found = true
		}
	}
	if !found {
		t.Fatalf("decoy %q not in the shared table", d)
	}
}

func TestDisguiseLongMessageCombines(t *testing.T) {
	long := strings.Repeat("x", 80)
	d := Disguise(long)
	if !strings.Contains(d, "; ") {
		t.Fatalf("long message decoy should combine two notes, got %q", d)
	}
	parts := strings.SplitN(d, "; ", 2)
	if parts[1] != strings.ToLower(parts[1]) {
		t.Fatalf("second note should be lowercased, got %q", parts[1])
	}
}

func TestDisguiseToleratesPlaceholder(t *testing.T) {
	// A decrypt-failure placeholder disguises like any other text.
	a := Disguise("[Encryption error]")
	b := Disguise("[Encryption error]")
	if a != b || a == "" {
		t.Fatalf("placeholder must map to a stable decoy, got %q and %q", a, b)
	}
}

func TestDisguiseEmptyInput(t *testing.T) {
	if Disguise("") == "" {
		t.Fatal("empty plaintext should still produce a decoy")
	}
}

func TestIsRevealTrigger(t *testing.T) {
	if !IsRevealTrigger(PointerEvent{Alt: true}) {
		t.Fatal("modifier-qualified click must trigger reveal")
	}
	if IsRevealTrigger(PointerEvent{}) {
		t.Fatal("plain click must not trigger reveal")
	}
}

func TestPressTrackerThreshold(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	p := NewPressTracker(WithClock(clock))

	p.Start()
	now = now.Add(DefaultPressThreshold)
	if !p.End() {
		t.Fatal("press held past the threshold must qualify")
	}

	p.Start()
	now = now.Add(DefaultPressThreshold / 2)
	if p.End() {
		t.Fatal("short press must not qualify")
	}
}

func TestPressTrackerMoveCancels(t *testing.T) {
	now := time.Now()
	p := NewPressTracker(WithClock(func() time.Time { return now }))

	p.Start()
	p.Move()
	now = now.Add(2 * DefaultPressThreshold)
	if p.End() {
		t.Fatal("movement during press must cancel the gesture")
	}
}

func TestPressTrackerCustomThreshold(t *testing.T) {
	now := time.Now()
	p := NewPressTracker(WithClock(func() time.Time { return now }), WithThreshold(100*time.Millisecond))

	p.Start()
	now = now.Add(150 * time.Millisecond)
	if !p.End() {
		t.Fatal("configured threshold should apply")
	}
}

func TestGate(t *testing.T) {
	g := &Gate{}
	if g.Revealed() {
		t.Fatal("gate must start hidden")
	}
	if got := g.Render("secret"); got == "secret" {
		t.Fatal("hidden gate must render the decoy")
	}
	if !g.Toggle() {
		t.Fatal("toggle should reveal")
	}
	if got := g.Render("secret"); got != "secret" {
		t.Fatalf("revealed gate must render plaintext, got %q", got)
	}
	g.Hide()
	if g.Revealed() {
		t.Fatal("hide must take effect immediately")
	}
}

func TestPlausibleFormulaDeterministic(t *testing.T) {
	a := PlausibleFormula(7, "C")
	b := PlausibleFormula(7, "C")
	if a != b {
		t.Fatalf("formula for the same cell differed: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "=") {
		t.Fatalf("formula should look like a formula, got %q", a)
	}
}
