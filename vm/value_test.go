package vm

import (
	"testing"
)

func TestRefString(t *testing.T) {
	if Nil.String() != "nil" {
		t.Errorf("Nil.String() = %q", Nil.String())
	}
	r := Ref{index: 12, gen: 3}
	if r.String() != "12.3" {
		t.Errorf("String() = %q, want 12.3", r.String())
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    Ref
		wantErr bool
	}{
		{"nil", Nil, false},
		{"0.1", Ref{index: 0, gen: 1}, false},
		{"42.7", Ref{index: 42, gen: 7}, false},
		{"42", Nil, true},
		{"x.1", Nil, true},
		{"1.y", Nil, true},
		{"1.0", Nil, true},
		{"-1.1", Nil, true},
	}
	for _, tt := range tests {
		got, err := ParseRef(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRef(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRef(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindInt.String() != "int" || KindPair.String() != "pair" || Kind(0).String() != "invalid" {
		t.Errorf("Kind strings = %s, %s, %s", KindInt, KindPair, Kind(0))
	}
}

func TestTriggerRoundTrip(t *testing.T) {
	for _, tr := range []Trigger{TriggerAuto, TriggerForced, TriggerShutdown} {
		if got := ParseTrigger(tr.String()); got != tr {
			t.Errorf("ParseTrigger(%q) = %v", tr.String(), got)
		}
	}
	if ParseTrigger("bogus") != 0 {
		t.Error("ParseTrigger accepted an unknown name")
	}
}
