package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio_IdenticalStringsIsOne(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("slack_notify", "slack_notify"))
}

func TestRatio_EmptyStringsIsOne(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("", ""))
}

func TestRatio_CompletelyDifferentIsLow(t *testing.T) {
	assert.Less(t, Ratio("abc", "xyz"), 0.34)
}

func TestRatio_CloseTypoScoresHigh(t *testing.T) {
	r := Ratio("send_message", "send_mesage")
	assert.Greater(t, r, 0.9)
}

func TestBest_PicksHighestAboveThreshold(t *testing.T) {
	match, ok := Best("send_emial", []string{"send_email", "send_fax", "archive"}, 0.6)
	assert.True(t, ok)
	assert.Equal(t, "send_email", match)
}

func TestBest_NoneAboveThresholdReturnsFalse(t *testing.T) {
	_, ok := Best("zzz", []string{"send_email", "archive"}, 0.6)
	assert.False(t, ok)
}
