package trigger

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpression(t *testing.T) {
	e, err := ParseExpression("0 00,30 09,10 ? * MON,WED")
	require.NoError(t, err)
	assert.Equal(t, "00,30", e.Minute)
	assert.Equal(t, "MON,WED", e.DayOfWeek)
	assert.Empty(t, e.Year)
	assert.Equal(t, "0 00,30 09,10 ? * MON,WED", e.CronSpec())

	e, err = ParseExpression("0 15 08 1 6 ? 2030")
	require.NoError(t, err)
	assert.Equal(t, "2030", e.Year)
	assert.Equal(t, "0 15 08 1 6 ?", e.CronSpec())
}

func TestParseExpressionRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"0 0 9 * *",
		"0 0 9 * * ? 2030 extra",
		"0 0 9 * * *",
		"0 0 9 ? * ?",
	} {
		_, err := ParseExpression(raw)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrInvalidExpression), raw)
	}
}
