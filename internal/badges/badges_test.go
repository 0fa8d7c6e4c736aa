package badges

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func badgeIDs(bs []Badge) []string {
	ids := make([]string, 0, len(bs))
	for _, b := range bs {
		ids = append(ids, b.ID)
	}
	return ids
}

func TestDefault_Loads(t *testing.T) {
	rs := Default()
	require.Len(t, rs.Rules(), 5)
	assert.Equal(t, "top-earner", rs.Rules()[0].ID)
}

func TestEvaluate(t *testing.T) {
	rs := Default()

	tests := []struct {
		name  string
		stats Stats
		want  []string
	}{
		{"first place", Stats{Rank: 1, Received: 10}, []string{"top-earner", "podium"}},
		{"third place", Stats{Rank: 3}, []string{"podium"}},
		{"unranked", Stats{Rank: 0}, []string{}},
		{"big receiver", Stats{Rank: 7, Received: 50}, []string{"rising-star"}},
		{"generous streaker", Stats{Sent: 150, Streak: 4}, []string{"generous", "on-fire"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, badgeIDs(rs.Evaluate(tt.stats)))
		})
	}
}

func TestLoad_CustomRules(t *testing.T) {
	src := `
badges: [{
	id:        "saver"
	name:      "Saver"
	metric:    "balance"
	op:        ">="
	threshold: 200
}]
`
	rs, err := Load("custom.cue", []byte(src))
	require.NoError(t, err)
	require.Len(t, rs.Rules(), 1)
	assert.Equal(t, "", rs.Rules()[0].Description, "description defaults to empty")
	assert.Equal(t, []string{"saver"}, badgeIDs(rs.Evaluate(Stats{Balance: 200})))
	assert.Empty(t, rs.Evaluate(Stats{Balance: 199}))
}

func TestLoad_RejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown metric", `badges: [{id: "x", name: "X", metric: "karma", op: ">=", threshold: 1}]`},
		{"negative threshold", `badges: [{id: "x", name: "X", metric: "sent", op: ">=", threshold: -1}]`},
		{"unknown field", `badges: [{id: "x", name: "X", metric: "sent", op: ">=", threshold: 1, color: "red"}]`},
		{"missing name", `badges: [{id: "x", metric: "sent", op: ">=", threshold: 1}]`},
		{"syntax", `badges: [{id: `},
		{"duplicate id", `badges: [
			{id: "x", name: "X", metric: "sent", op: ">=", threshold: 1},
			{id: "x", name: "Y", metric: "sent", op: ">=", threshold: 2},
		]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("bad.cue", []byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingBadgesList(t *testing.T) {
	_, err := Load("empty.cue", []byte(`other: 1`))
	require.Error(t, err)
}
