package text_test

import (
	"strings"
	"testing"

	"github.com/KKami91/zonos-worker/internal/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizer_Normalize(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "plain", input: "Hello, world!", expected: "Hello, world!"},
		{name: "whitespace", input: "  Hello \t\r\n  world  ", expected: "Hello world"},
		{name: "em dash", input: "Wait — what", expected: "Wait, what"},
		{name: "en dash", input: "one–two", expected: "one, two"},
		{name: "ellipsis char", input: "Well…", expected: "Well..."},
		{name: "long ellipsis", input: "Well.....", expected: "Well..."},
		{name: "runaway punctuation", input: "Really?!?!", expected: "Really?"},
		{name: "space before punctuation", input: "Hello , world !", expected: "Hello, world!"},
		{name: "control characters", input: "Hel\x00lo\x07", expected: "Hello"},
		{name: "korean", input: "네,  각 언어 코드가 어떤 언어를 의미하는지", expected: "네, 각 언어 코드가 어떤 언어를 의미하는지"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, normalizer.Normalize(testCase.input))
		})
	}
}

func TestNormalizer_Validate(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	require.NoError(t, normalizer.Validate("Hello", 10))
	require.NoError(t, normalizer.Validate(strings.Repeat("a", 50), 0))
	require.ErrorIs(t, normalizer.Validate("   ", 10), text.ErrTextEmpty)
	require.ErrorIs(t, normalizer.Validate("\xff\xfe", 10), text.ErrTextInvalidUTF8)
	require.ErrorIs(t, normalizer.Validate("안녕하세요", 3), text.ErrTextTooLong)
}

func TestNormalizer_Prepare(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	prepared, err := normalizer.Prepare("Hello   there — friend", 100)
	require.NoError(t, err)
	assert.Equal(t, "Hello there, friend", prepared)

	prepared, err = normalizer.Prepare("replacement � kept", 100)
	require.NoError(t, err)
	assert.Equal(t, "replacement � kept", prepared)

	_, err = normalizer.Prepare("bad \xff bytes", 100)
	require.ErrorIs(t, err, text.ErrTextInvalidUTF8)

	_, err = normalizer.Prepare("\x00\x07", 100)
	require.ErrorIs(t, err, text.ErrTextEmpty)

	_, err = normalizer.Prepare("안녕하세요", 3)
	require.ErrorIs(t, err, text.ErrTextTooLong)
}
