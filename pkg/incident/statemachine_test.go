package incident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestValidateTransition は遷移表のすべての組み合わせを確認
func TestValidateTransition(t *testing.T) {
	statuses := []Status{StatusOpen, StatusInProgress, StatusResolved, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusOpen, StatusInProgress}:      true,
		{StatusOpen, StatusCancelled}:       true,
		{StatusInProgress, StatusResolved}:  true,
		{StatusInProgress, StatusCancelled}: true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			err := ValidateTransition(from, to)
			if allowed[[2]Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusResolved))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(StatusOpen))
	assert.False(t, IsTerminal(StatusInProgress))
}

func TestParseSeverityAndStatus(t *testing.T) {
	s, err := ParseSeverity("high")
	assert.NoError(t, err)
	assert.Equal(t, SeverityHigh, s)

	_, err = ParseSeverity("CRITICAL")
	assert.ErrorIs(t, err, ErrInvalidSeverity)

	st, err := ParseStatus(" in_progress ")
	assert.NoError(t, err)
	assert.Equal(t, StatusInProgress, st)

	_, err = ParseStatus("CLOSED")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
