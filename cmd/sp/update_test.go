package main

import (
	"slices"
	"testing"
)

func TestApplyLabelEdits(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		edits  []string
		want   []string
	}{
		{
			name:  "plus adds",
			edits: []string{"+urgent"},
			want:  []string{"urgent"},
		},
		{
			name:  "bare name adds",
			edits: []string{"backend"},
			want:  []string{"backend"},
		},
		{
			name:   "minus removes",
			labels: []string{"stale", "urgent"},
			edits:  []string{"-stale"},
			want:   []string{"urgent"},
		},
		{
			name:   "add existing is a no-op",
			labels: []string{"urgent"},
			edits:  []string{"+urgent"},
			want:   []string{"urgent"},
		},
		{
			name:   "remove missing is a no-op",
			labels: []string{"urgent"},
			edits:  []string{"-nope"},
			want:   []string{"urgent"},
		},
		{
			name:   "mixed edits, sorted result",
			labels: []string{"zeta", "stale"},
			edits:  []string{"+alpha", "-stale", "beta"},
			want:   []string{"alpha", "beta", "zeta"},
		},
		{
			name:  "blank edits ignored",
			edits: []string{"", "  ", "+"},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyLabelEdits(tt.labels, tt.edits)
			if !slices.Equal(got, tt.want) {
				t.Errorf("applyLabelEdits(%v, %v) = %v, want %v", tt.labels, tt.edits, got, tt.want)
			}
		})
	}
}
