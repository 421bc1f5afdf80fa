package game

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownCard = errors.New("unknown card code")

// RenderCard maps a card code to its marking: index code+1 of marking.
func RenderCard(marking string, code int32) (string, error) {
	i := int(code) + 1
	if i < 0 || i >= len(marking) {
		return "", fmt.Errorf("%w: %d", ErrUnknownCard, code)
	}
	return marking[i : i+1], nil
}

// RenderCards renders codes as space-separated markings.
func RenderCards(marking string, codes []int32) (string, error) {
	parts := make([]string, len(codes))
	for i, c := range codes {
		m, err := RenderCard(marking, c)
		if err != nil {
			return "", err
		}
		parts[i] = m
	}
	return strings.Join(parts, " "), nil
}

// RenderDice renders die faces as space-separated integers.
func RenderDice(values []int32) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, " ")
}

// Histogram counts die faces; bucket i holds face i+1.
type Histogram [6]int

// Add counts faces 1..6 and ignores anything else.
func (h *Histogram) Add(values []int32) {
	for _, v := range values {
		if v >= 1 && v <= 6 {
			h[v-1]++
		}
	}
}

// FoldWild adds the count of bucket 0 into buckets 1..5, the wild-face
// rule of the dice variant.
func (h Histogram) FoldWild() Histogram {
	for i := 1; i < len(h); i++ {
		h[i] += h[0]
	}
	return h
}

func (h Histogram) String() string {
	parts := make([]string, len(h))
	for i, n := range h {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " ")
}

// DiceHistogram counts the faces of values.
func DiceHistogram(values []int32) Histogram {
	var h Histogram
	h.Add(values)
	return h
}
