package game

import (
	"errors"
	"testing"
)

const marking = "D-KQAJ"

func TestRenderCard(t *testing.T) {
	tests := []struct {
		code int32
		want string
	}{
		{-1, "D"},
		{0, "-"},
		{1, "K"},
		{2, "Q"},
		{3, "A"},
		{4, "J"},
	}
	for _, tt := range tests {
		got, err := RenderCard(marking, tt.code)
		if err != nil {
			t.Errorf("RenderCard(%d): %v", tt.code, err)
			continue
		}
		if got != tt.want {
			t.Errorf("RenderCard(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestRenderCardUnknown(t *testing.T) {
	for _, code := range []int32{-2, 5, 100} {
		if _, err := RenderCard(marking, code); !errors.Is(err, ErrUnknownCard) {
			t.Errorf("RenderCard(%d) err = %v, want ErrUnknownCard", code, err)
		}
	}
}

func TestRenderCards(t *testing.T) {
	got, err := RenderCards(marking, []int32{1, 1, 4, -1})
	if err != nil {
		t.Fatal(err)
	}
	if got != "K K J D" {
		t.Errorf("got %q", got)
	}
	if got, _ := RenderCards(marking, nil); got != "" {
		t.Errorf("empty hand rendered as %q", got)
	}
	if _, err := RenderCards(marking, []int32{1, 9}); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("err = %v, want ErrUnknownCard", err)
	}
}

func TestDiceHistogram(t *testing.T) {
	got := DiceHistogram([]int32{1, 1, 2, 6})
	want := Histogram{2, 1, 0, 0, 0, 1}
	if got != want {
		t.Errorf("DiceHistogram = %v, want %v", got, want)
	}
	if s := got.String(); s != "2 1 0 0 0 1" {
		t.Errorf("String() = %q", s)
	}
}

func TestDiceHistogramIgnoresBadFaces(t *testing.T) {
	got := DiceHistogram([]int32{0, 7, -1, 3})
	if got != (Histogram{0, 0, 1, 0, 0, 0}) {
		t.Errorf("got %v", got)
	}
}

func TestFoldWild(t *testing.T) {
	h := DiceHistogram([]int32{1, 1, 2, 6})
	got := h.FoldWild()
	want := Histogram{2, 3, 2, 2, 2, 3}
	if got != want {
		t.Errorf("FoldWild = %v, want %v", got, want)
	}
	if h != (Histogram{2, 1, 0, 0, 0, 1}) {
		t.Error("FoldWild modified its receiver")
	}
}

func TestRenderDice(t *testing.T) {
	if got := RenderDice([]int32{3, 5, 1}); got != "3 5 1" {
		t.Errorf("got %q", got)
	}
}
