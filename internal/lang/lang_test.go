package lang

import "testing"

func TestParse(t *testing.T) {
	cases := map[string]Language{
		"Korean":             Korean,
		"ko":                 Korean,
		" ENGLISH ":          English,
		"ja":                 Japanese,
		"Chinese (Mandarin)": Chinese,
		"mandarin":           Chinese,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Errorf("Parse(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Parse(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := Parse("klingon"); err == nil {
		t.Error("expected error for unknown language")
	}
}

func TestNextWraps(t *testing.T) {
	if Korean.Next() != English {
		t.Errorf("Korean.Next() = %q", Korean.Next())
	}
	if Chinese.Next() != Korean {
		t.Errorf("Chinese.Next() = %q, want Korean", Chinese.Next())
	}
	if Language("bogus").Next() != Korean {
		t.Error("unknown language should cycle to the first entry")
	}
}

func TestCode(t *testing.T) {
	if Chinese.Code() != "zh" {
		t.Errorf("Chinese.Code() = %q", Chinese.Code())
	}
	if Language("x").Valid() {
		t.Error("x should not be valid")
	}
}
