package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/partidas/internal/engine"
)

func TestParseID(t *testing.T) {
	id, err := parseID("12")
	require.NoError(t, err)
	assert.Equal(t, 12, id)

	for _, bad := range []string{"", "0", "-3", "x1"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestPromptConfirmer(t *testing.T) {
	g := engine.NewGame(4, "Quiz", "Ana")
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := promptConfirmer(strings.NewReader(tt.input), &out).Confirm(context.Background(), g)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), `Delete game #4 "Quiz"?`)
	}
}

func TestPrintGame_SortsScores(t *testing.T) {
	g := engine.NewGame(2, "Quiz", "Beto", "Ana")
	g.State = engine.StateFinished
	g.Score = map[string]int{"Beto": 3, "Ana": 5}

	var out bytes.Buffer
	printGame(&out, g)
	assert.Equal(t, "#2 Quiz [finished] players: Beto, Ana\n  Ana: 5\n  Beto: 3\n", out.String())
}
