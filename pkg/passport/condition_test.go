package passport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		name string
		text string
		ok   bool
	}{
		{"comparison", "income < 2 * subsistence_minimum", true},
		{"boolean ops", "age >= 18 AND NOT employed OR disabled", true},
		{"lowercase keywords", "documents_complete == true and not rejected", true},
		{"string literal", `region = "Moscow"`, true},
		{"dotted identifiers", "applicant.children.count > 2", true},
		{"cyrillic identifiers", "доход < прожиточный_минимум", true},
		{"parentheses", "(a + b) / 2 != 0", true},
		{"bare flag", "approved", true},

		{"prose", "Заявление одобрено специалистом", false},
		{"dangling operator", "income <", false},
		{"unbalanced parenthesis", "(a > 1", false},
		{"unknown symbol", "a ? b : c", false},
		{"empty", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCondition(tt.text)
			if tt.ok {
				require.NoError(t, err)
				assert.NotNil(t, c)
			} else {
				assert.ErrorIs(t, err, ErrInvalidInput)
			}
		})
	}
}

func TestCondition_Identifiers(t *testing.T) {
	c, err := ParseCondition("income < 2 * minimum AND NOT (employed OR income > cap)")
	require.NoError(t, err)
	assert.Equal(t, []string{"income", "minimum", "employed", "cap"}, c.Identifiers())

	c, err = ParseCondition(`status = "approved" AND TRUE`)
	require.NoError(t, err)
	assert.Equal(t, []string{"status"}, c.Identifiers())
}
