package apikeys_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-server/internal/apikeys"
)

func TestRotator_CurrentAndAdvance(t *testing.T) {
	r := apikeys.NewRotator([]string{"a", "b", "c"})

	key, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, "a", key)

	// Advance по кругу через весь пул.
	r.Advance()
	key, _ = r.Current()
	assert.Equal(t, "b", key)

	r.Advance()
	key, _ = r.Current()
	assert.Equal(t, "c", key)

	r.Advance()
	key, _ = r.Current()
	assert.Equal(t, "a", key, "advance must wrap around to the first key")
}

func TestRotator_EmptyPool(t *testing.T) {
	r := apikeys.NewRotator(nil)

	_, err := r.Current()
	assert.ErrorIs(t, err, apikeys.ErrNoKeys)
	assert.Equal(t, 0, r.Len())

	// Advance на пустом пуле не должен паниковать.
	r.Advance()
	_, err = r.Current()
	assert.ErrorIs(t, err, apikeys.ErrNoKeys)
}

func TestRotator_ReplaceResetsCursor(t *testing.T) {
	r := apikeys.NewRotator([]string{"a", "b", "c"})
	r.Advance()
	r.Advance()

	key, _ := r.Current()
	require.Equal(t, "c", key)

	r.Replace([]string{"x", "y"})
	key, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, "x", key, "replace must reset the cursor to the first key")
	assert.Equal(t, 2, r.Len())
}

func TestRotator_ReplaceWithEmpty(t *testing.T) {
	r := apikeys.NewRotator([]string{"a"})
	r.Replace(nil)

	_, err := r.Current()
	assert.ErrorIs(t, err, apikeys.ErrNoKeys)
}

func TestRotator_KeysReturnsCopy(t *testing.T) {
	r := apikeys.NewRotator([]string{"a", "b"})
	keys := r.Keys()
	keys[0] = "mutated"

	current, _ := r.Current()
	assert.Equal(t, "a", current)
}
