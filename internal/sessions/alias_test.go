package sessions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pulsekit/internal/sessions"
)

func TestAlias(t *testing.T) {
	t.Run("same session id always maps to the same alias", func(t *testing.T) {
		first := sessions.Alias("session-abc-123")
		second := sessions.Alias("session-abc-123")

		assert.Equal(t, first, second)
		assert.NotEmpty(t, first)
	})

	t.Run("different ids usually map to different aliases", func(t *testing.T) {
		one := sessions.Alias("session-1")
		two := sessions.Alias("session-2")
		three := sessions.Alias("session-3")

		assert.NotEqual(t, one, two)
		assert.NotEqual(t, two, three)
	})

	t.Run("alias reads as Adjective Animal", func(t *testing.T) {
		alias := sessions.Alias("some-session")
		assert.Regexp(t, `^[A-Z][a-z]+ [A-Z][a-z]+$`, alias)
	})

	t.Run("handles unusual ids", func(t *testing.T) {
		for _, id := range []string{"", "x", "!@#$%^&*()", "a-very-long-session-identifier-with-many-characters"} {
			alias := sessions.Alias(id)
			assert.NotEmpty(t, alias, "alias should not be empty for id %q", id)
			assert.Contains(t, alias, " ")
		}
	})
}
