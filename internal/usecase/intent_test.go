package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntentMatcher_Classify(t *testing.T) {
	m := NewIntentMatcher(nil, nil)
	cases := []struct {
		body string
		want Intent
	}{
		{"Proceed to video", IntentProceed},
		{"proceed to video!", IntentProceed},
		{"yes please", IntentProceed},
		{"Yep.", IntentProceed},
		{"animate it", IntentProceed},
		{"Make another edit", IntentEdit},
		{"change the sky", IntentEdit},
		{"modify", IntentEdit},
		{"edited", IntentNone},
		{"videos are cool", IntentNone},
		{"yes, edit it", IntentNone},
		{"hmm", IntentNone},
		{"   ", IntentNone},
	}
	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			require.Equal(t, tc.want, m.Classify(tc.body))
		})
	}
}

func TestIntentMatcher_PhraseMatchesOnlyAtStart(t *testing.T) {
	m := NewIntentMatcher([]string{"go ahead"}, []string{"redo"})
	require.Equal(t, IntentProceed, m.Classify("Go ahead, thanks"))
	require.Equal(t, IntentNone, m.Classify("please go ahead"))
	require.Equal(t, IntentNone, m.Classify("go aheadish"))
	require.Equal(t, IntentEdit, m.Classify("redo it"))
}

func TestNormalizeText(t *testing.T) {
	require.Equal(t, "lets make a video", normalizeText("  Let's   make a VIDEO!!"))
	require.Equal(t, "", normalizeText("?!"))
}
