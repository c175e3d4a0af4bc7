package command_test

import (
	"testing"

	"github.com/raphaelgruber/nova/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("returns nothing for plain text", func(t *testing.T) {
		assert.Empty(t, command.Parse("Just a normal sentence."))
		assert.Empty(t, command.Parse(""))
	})

	t.Run("parses directive without argument", func(t *testing.T) {
		got := command.Parse("Sure! [CMD:time] Here you go.")

		require.Len(t, got, 1)
		assert.Equal(t, "time", got[0].Type)
		assert.Equal(t, "", got[0].Arg)
		assert.Equal(t, "[CMD:time]", got[0].Raw)
	})

	t.Run("parses directive with argument", func(t *testing.T) {
		got := command.Parse("[CMD:weather:New York]")

		require.Len(t, got, 1)
		assert.Equal(t, "weather", got[0].Type)
		assert.Equal(t, "New York", got[0].Arg)
		assert.Equal(t, "[CMD:weather:New York]", got[0].Raw)
	})

	t.Run("argument may contain further colons", func(t *testing.T) {
		got := command.Parse("[CMD:file:create:/tmp/notes.txt]")

		require.Len(t, got, 1)
		assert.Equal(t, "file", got[0].Type)
		assert.Equal(t, "create:/tmp/notes.txt", got[0].Arg)
	})

	t.Run("returns multiple directives in order", func(t *testing.T) {
		text := "First [CMD:time] then [CMD:search:go testing] and [CMD:news:technology]."
		got := command.Parse(text)

		require.Len(t, got, 3)
		assert.Equal(t, "time", got[0].Type)
		assert.Equal(t, "search", got[1].Type)
		assert.Equal(t, "go testing", got[1].Arg)
		assert.Equal(t, "news", got[2].Type)
		assert.Equal(t, "technology", got[2].Arg)
	})

	t.Run("skips malformed markup", func(t *testing.T) {
		for name, text := range map[string]string{
			"empty type":        "[CMD:] nothing",
			"missing bracket":   "[CMD:time and more text",
			"space in type":     "[CMD:open url:x]",
			"bare marker":       "ends with [CMD:",
			"non-ascii type":    "[CMD:µtime]",
			"multibyte letters": "[CMD:wétter:Wien]",
		} {
			t.Run(name, func(t *testing.T) {
				assert.Empty(t, command.Parse(text))
			})
		}
	})

	t.Run("finds valid directive after malformed one", func(t *testing.T) {
		got := command.Parse("[CMD:] broken, but [CMD:time] works")

		require.Len(t, got, 1)
		assert.Equal(t, "time", got[0].Type)
	})

	t.Run("unknown types still parse", func(t *testing.T) {
		got := command.Parse("[CMD:teleport:home]")

		require.Len(t, got, 1)
		assert.Equal(t, "teleport", got[0].Type)
	})
}

func TestStrip(t *testing.T) {
	t.Run("removes directive and joins surrounding text", func(t *testing.T) {
		got := command.Strip("Sure! [CMD:time] Let me check that for you.")
		assert.Equal(t, "Sure! Let me check that for you.", got)
	})

	t.Run("removes multiple directives", func(t *testing.T) {
		got := command.Strip("[CMD:weather:Paris] Here's the weather. [CMD:news:science] And the news.")
		assert.Equal(t, "Here's the weather. And the news.", got)
	})

	t.Run("leaves malformed markup in place", func(t *testing.T) {
		got := command.Strip("this [CMD: is not a token")
		assert.Equal(t, "this [CMD: is not a token", got)

		got = command.Strip("and [CMD:µtime] is not one either")
		assert.Equal(t, "and [CMD:µtime] is not one either", got)
	})

	t.Run("returns plain text unchanged", func(t *testing.T) {
		assert.Equal(t, "Hello there.", command.Strip("Hello there."))
		assert.Equal(t, "", command.Strip(""))
	})

	t.Run("preserves single newlines", func(t *testing.T) {
		got := command.Strip("line one\nline two")
		assert.Equal(t, "line one\nline two", got)
	})

	t.Run("is idempotent", func(t *testing.T) {
		inputs := []string{
			"Sure! [CMD:time] Let me check.",
			"Multiple   spaces [CMD:search:x]  here.",
			"already clean text",
			"[CMD:time][CMD:weather:Oslo]",
		}
		for _, in := range inputs {
			once := command.Strip(in)
			assert.Equal(t, once, command.Strip(once), "input %q", in)
		}
	})

	t.Run("directive-only text strips to empty", func(t *testing.T) {
		assert.Equal(t, "", command.Strip("[CMD:time]"))
	})
}
