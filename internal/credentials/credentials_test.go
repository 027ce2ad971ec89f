package credentials

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLabeledForm(t *testing.T) {
	c, err := Parse("ID: 1234567890\nPassword: abcd1234")
	require.NoError(t, err)
	require.Equal(t, Credentials{Username: "1234567890", Password: "abcd1234"}, c)
}

func TestParseLabeledFormIsCaseInsensitive(t *testing.T) {
	c, err := Parse("id:1234567890\r\npassword:abcd1234")
	require.NoError(t, err)
	require.Equal(t, Credentials{Username: "1234567890", Password: "abcd1234"}, c)
}

func TestParseSpaceOptionalNumericID(t *testing.T) {
	c, err := Parse("123 456 7890 abcd1234")
	require.NoError(t, err)
	require.Equal(t, Credentials{Username: "1234567890", Password: "abcd1234"}, c)
}

func TestParseTwoBareLines(t *testing.T) {
	c, err := Parse("1234567890\nabcd1234")
	require.NoError(t, err)
	require.Equal(t, Credentials{Username: "1234567890", Password: "abcd1234"}, c)
}

func TestParseSingleNumericIDWithoutSpaces(t *testing.T) {
	c, err := Parse("1234567890 abcd1234")
	require.NoError(t, err)
	require.Equal(t, Credentials{Username: "1234567890", Password: "abcd1234"}, c)
}

func TestParseEmptyInput(t *testing.T) {
	_, err := Parse("   \n  ")
	require.ErrorIs(t, err, ErrEmpty)
}

func TestParseRejectsNonNumericUsername(t *testing.T) {
	_, err := Parse("notanumber abcd1234")
	require.ErrorIs(t, err, ErrInvalidUsername)
}

func TestParseRejectsSingleToken(t *testing.T) {
	_, err := Parse("justonetoken")
	require.ErrorIs(t, err, ErrUnrecognizedFormat)
}
