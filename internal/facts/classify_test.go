package facts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		title         string
		expectedKind  string
		expectedScore float64
	}{
		{
			name:          "feat with scope",
			title:         "feat(auth): add OAuth",
			expectedKind:  KindFeat,
			expectedScore: 3,
		},
		{
			name:          "plain fix",
			title:         "fix: x",
			expectedKind:  KindFix,
			expectedScore: 2,
		},
		{
			name:          "chore",
			title:         "chore: y",
			expectedKind:  KindChore,
			expectedScore: 1,
		},
		{
			name:          "revert",
			title:         "revert: z",
			expectedKind:  KindRevert,
			expectedScore: 0.5,
		},
		{
			name:          "docs falls through to other",
			title:         "docs: z",
			expectedKind:  KindOther,
			expectedScore: 0.5,
		},
		{
			name:          "case insensitive",
			title:         "FEAT: shouting",
			expectedKind:  KindFeat,
			expectedScore: 3,
		},
		{
			name:          "prefix is trimmed",
			title:         "  fix : trailing space before colon",
			expectedKind:  KindFix,
			expectedScore: 2,
		},
		{
			name:          "text after colon ignored",
			title:         "chore: feat something",
			expectedKind:  KindChore,
			expectedScore: 1,
		},
		{
			name:          "no colon at all",
			title:         "Update README",
			expectedKind:  KindOther,
			expectedScore: 0.5,
		},
		{
			name:          "no colon but feat prefix",
			title:         "feature flags everywhere",
			expectedKind:  KindFeat,
			expectedScore: 3,
		},
		{
			name:          "empty title",
			title:         "",
			expectedKind:  KindOther,
			expectedScore: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, score := Classify(tt.title)
			assert.Equal(t, tt.expectedKind, kind)
			assert.Equal(t, tt.expectedScore, score)
		})
	}
}
