package similarity

import "testing"

type scorable struct {
	title, description, rationale string
}

func (s scorable) GetTitle() string       { return s.title }
func (s scorable) GetDescription() string { return s.description }
func (s scorable) GetRationale() string   { return s.rationale }

func TestRatio_IdenticalStringsScoreOne(t *testing.T) {
	got := Ratio("always run tests before committing", "always run tests before committing")
	if got != 1.0 {
		t.Fatalf("want 1.0, got %v", got)
	}
}

func TestRatio_BothEmptyScoresOne(t *testing.T) {
	if got := Ratio("", ""); got != 1.0 {
		t.Fatalf("want 1.0, got %v", got)
	}
}

func TestRatio_OneEmptyScoresZero(t *testing.T) {
	if got := Ratio("something", ""); got != 0.0 {
		t.Fatalf("want 0.0, got %v", got)
	}
}

func TestRatio_IsCaseInsensitiveAndTrimsWhitespace(t *testing.T) {
	got := Ratio("  Dark Mode  ", "dark mode")
	if got != 1.0 {
		t.Fatalf("want 1.0, got %v", got)
	}
}

func TestRatio_CompletelyDisjointStringsScoreZero(t *testing.T) {
	got := Ratio("abc", "xyz")
	if got != 0.0 {
		t.Fatalf("want 0.0, got %v", got)
	}
}

func TestCompare_SameKindAddsBonusOnTopOfTextScore(t *testing.T) {
	a := scorable{title: "dark mode", description: "user wants dark mode", rationale: "asked repeatedly"}
	b := scorable{title: "dark mode", description: "user wants dark mode", rationale: "mentioned twice"}

	withoutBonus := Compare(a, b, false)
	withBonus := Compare(a, b, true)

	if withBonus <= withoutBonus {
		t.Fatalf("same-kind bonus should raise the score: %v vs %v", withBonus, withoutBonus)
	}
	if withBonus > 1.0 {
		t.Fatalf("score must clamp to 1.0, got %v", withBonus)
	}
}

func TestCompare_IdenticalTextWithoutKindBonusIsOne(t *testing.T) {
	a := scorable{title: "t", description: "d", rationale: "r"}
	b := scorable{title: "t", description: "d", rationale: "r"}
	if got := Compare(a, b, false); got != 1.0 {
		t.Fatalf("want 1.0, got %v", got)
	}
}

func TestStatusLabel_AboveAlreadyResolvedThreshold(t *testing.T) {
	if got := StatusLabel(0.85001); got != "already_resolved" {
		t.Fatalf("want already_resolved, got %s", got)
	}
}

func TestStatusLabel_AtAlreadyResolvedThresholdIsNotYetAlreadyResolved(t *testing.T) {
	// StatusLabel uses a strict "> 0.85", so a score of exactly 0.85 falls
	// into the recurring bucket rather than already_resolved.
	if got := StatusLabel(0.85); got != "recurring" {
		t.Fatalf("want recurring, got %s", got)
	}
}

func TestStatusLabel_JustBelowAlreadyResolvedThresholdIsRecurring(t *testing.T) {
	if got := StatusLabel(0.84); got != "recurring" {
		t.Fatalf("want recurring, got %s", got)
	}
}

func TestStatusLabel_AtRecurringThresholdIsNotYetRecurring(t *testing.T) {
	if got := StatusLabel(0.6); got != "new" {
		t.Fatalf("want new, got %s", got)
	}
}

func TestStatusLabel_JustBelowRecurringThresholdIsNew(t *testing.T) {
	if got := StatusLabel(0.59); got != "new" {
		t.Fatalf("want new, got %s", got)
	}
}

func TestClamp_BoundsToUnitInterval(t *testing.T) {
	if got := clamp(-0.5); got != 0 {
		t.Fatalf("want 0, got %v", got)
	}
	if got := clamp(1.5); got != 1 {
		t.Fatalf("want 1, got %v", got)
	}
	if got := clamp(0.42); got != 0.42 {
		t.Fatalf("want 0.42, got %v", got)
	}
}
