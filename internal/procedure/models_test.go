package procedure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPendingReview, StatusPHIConfirmed},
		{StatusPHIConfirmed, StatusProcessing},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusCompleted, StatusPHIReviewed},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to Status }{
		{StatusPendingReview, StatusProcessing},
		{StatusPendingReview, StatusCompleted},
		{StatusPHIConfirmed, StatusCompleted},
		{StatusCompleted, StatusProcessing},
		{StatusFailed, StatusPendingReview},
		{StatusFailed, StatusProcessing},
		{StatusPHIReviewed, StatusCompleted},
		{StatusProcessing, StatusPendingReview},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusPHIReviewed.Terminal())
	assert.False(t, StatusPendingReview.Terminal())
	assert.False(t, StatusCompleted.Terminal())
}

func TestUnscrubbedSpans(t *testing.T) {
	entities := []Entity{
		{Start: 8, End: 16, EntityType: "PERSON", Text: "Jane Doe", Confirmed: true},
		{Start: 30, End: 40, EntityType: "DATE", Text: "2024-01-01", Confirmed: false},
		{Start: 50, End: 55, EntityType: "ID", Text: "98765", Confirmed: true},
	}

	t.Run("clean text has no leaks", func(t *testing.T) {
		leaked := UnscrubbedSpans("Patient [PERSON] seen on 2024-01-01, MRN [ID].", entities)
		assert.Empty(t, leaked)
	})

	t.Run("confirmed span still present is reported", func(t *testing.T) {
		leaked := UnscrubbedSpans("Patient Jane Doe seen on [DATE].", entities)
		assert.Len(t, leaked, 1)
		assert.Equal(t, "Jane Doe", leaked[0].Text)
	})

	t.Run("unconfirmed spans are not the detectors problem", func(t *testing.T) {
		leaked := UnscrubbedSpans("Seen on 2024-01-01.", entities)
		assert.Empty(t, leaked)
	})
}
