package mindmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSameIdentity(t *testing.T) {
	a := Account{ID: "u1", Email: "a@example.com"}
	require.True(t, SameIdentity(a, Account{ID: "u1", Email: "other@example.com"}))
	require.False(t, SameIdentity(a, Account{ID: "u2"}))
	require.False(t, SameIdentity(Account{}, Account{}))
	require.False(t, SameIdentity(Account{ID: "  "}, Account{ID: "  "}))
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "Ada", Account{ID: "u1", Email: "a@x", FullName: "Ada"}.DisplayName())
	require.Equal(t, "a@x", Account{ID: "u1", Email: "a@x"}.DisplayName())
	require.Equal(t, "u1", Account{ID: "u1"}.DisplayName())
}

func TestDocumentClone(t *testing.T) {
	d := &Document{ID: 1, Content: []byte("v1")}
	c := d.Clone()
	c.Content[0] = 'X'
	require.Equal(t, "v1", string(d.Content))
	require.Nil(t, (*Document)(nil).Clone())
}
