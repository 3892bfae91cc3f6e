package alerts_test

import (
	"testing"

	"github.com/emberassist/ember/internal/alerts"
)

func TestDetector_ExactPhrase(t *testing.T) {
	t.Parallel()

	d := alerts.NewDetector([]string{"help me"})
	trigger, ok := d.Detect("please help me now")
	if !ok {
		t.Fatal("Detect = false, want match")
	}
	if trigger != "help me" {
		t.Errorf("trigger = %q, want %q", trigger, "help me")
	}
}

func TestDetector_FuzzyDysarthricRendering(t *testing.T) {
	t.Parallel()

	d := alerts.NewDetector([]string{"help me"})
	for _, text := range []string{"hel me", "help mee", "hellp me"} {
		if _, ok := d.Detect(text); !ok {
			t.Errorf("Detect(%q) = false, want fuzzy match", text)
		}
	}
}

func TestDetector_RejectsUnrelatedWords(t *testing.T) {
	t.Parallel()

	d := alerts.NewDetector([]string{"help"})
	for _, text := range []string{
		"I would like some kelp salad",
		"he held the door",
		"what a lovely day",
	} {
		if trigger, ok := d.Detect(text); ok {
			t.Errorf("Detect(%q) = %q, want no match", text, trigger)
		}
	}
}

func TestDetector_DefaultPhraseList(t *testing.T) {
	t.Parallel()

	d := alerts.NewDetector(nil)
	for _, text := range []string{
		"HELP!!!",
		"pls call an ambulance now",
		"i cant breathe",
		"my chest pain is back",
	} {
		if _, ok := d.Detect(text); !ok {
			t.Errorf("Detect(%q) = false, want match from built-in list", text)
		}
	}
	if _, ok := d.Detect("I want a sandwich"); ok {
		t.Error("benign utterance should not trigger")
	}
}

func TestDetector_CustomListReplacesDefault(t *testing.T) {
	t.Parallel()

	d := alerts.NewDetector([]string{"blue banana"})
	if _, ok := d.Detect("the blue banana is here"); !ok {
		t.Error("custom phrase should match")
	}
	if _, ok := d.Detect("help"); ok {
		t.Error("default phrases should be replaced by the custom list")
	}
}

func TestDetector_EmptyText(t *testing.T) {
	t.Parallel()

	d := alerts.NewDetector(nil)
	if _, ok := d.Detect(""); ok {
		t.Error("empty text should not match")
	}
	if _, ok := d.Detect("   ..."); ok {
		t.Error("punctuation-only text should not match")
	}
}

func TestDetector_ThresholdTightening(t *testing.T) {
	t.Parallel()

	strict := alerts.NewDetector([]string{"help me"}, alerts.WithThreshold(0.99))
	if _, ok := strict.Detect("hel me"); ok {
		t.Error("near-match should fail a 0.99 threshold")
	}
	if _, ok := strict.Detect("help me"); !ok {
		t.Error("exact match should always pass")
	}
}

func TestDetector_Evaluate(t *testing.T) {
	t.Parallel()

	d := alerts.NewDetector([]string{"help"})

	trigger, emergency := d.Evaluate("I want tea", true)
	if !emergency || trigger != alerts.TriggerInterpreter {
		t.Errorf("Evaluate with backend flag = (%q, %v), want interpreter trigger", trigger, emergency)
	}

	trigger, emergency = d.Evaluate("help", false)
	if !emergency || trigger != "help" {
		t.Errorf("Evaluate keyword = (%q, %v), want keyword trigger", trigger, emergency)
	}

	if _, emergency = d.Evaluate("I want tea", false); emergency {
		t.Error("benign text without backend flag should not be an emergency")
	}
}
