package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChallengeTable(t *testing.T) {
	t.Run("minted challenges are unique and outstanding", func(t *testing.T) {
		tab := newChallengeTable(30 * time.Second)

		a, err := tab.Mint()
		require.NoError(t, err)
		b, err := tab.Mint()
		require.NoError(t, err)

		require.NotEqual(t, a, b)
		require.True(t, tab.Lookup(a))
		require.True(t, tab.Lookup(b))
		require.Equal(t, 2, tab.Len())
	})

	t.Run("consume is single-use", func(t *testing.T) {
		tab := newChallengeTable(30 * time.Second)
		ch, err := tab.Mint()
		require.NoError(t, err)

		require.True(t, tab.Consume(ch))
		require.False(t, tab.Consume(ch))
		require.False(t, tab.Lookup(ch))
	})

	t.Run("expired challenges fail lookup and are deleted", func(t *testing.T) {
		tab := newChallengeTable(10 * time.Millisecond)
		ch, err := tab.Mint()
		require.NoError(t, err)

		time.Sleep(30 * time.Millisecond)
		require.False(t, tab.Lookup(ch))

		_, err = tab.Mint()
		require.NoError(t, err)
		require.Equal(t, 1, tab.Len())
	})

	t.Run("unknown challenge", func(t *testing.T) {
		tab := newChallengeTable(30 * time.Second)
		require.False(t, tab.Lookup("never-minted"))
		require.False(t, tab.Consume("never-minted"))
	})
}
