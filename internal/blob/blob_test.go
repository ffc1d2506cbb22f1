package blob

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndLookup(t *testing.T) {
	reg := NewRegistry("test", nil)
	h := reg.Create([]byte{1, 2, 3}, "image/jpeg")

	require.True(t, strings.HasPrefix(h.URL(), "blob:test/"), h.URL())
	assert.Equal(t, 1, reg.Live())

	got, err := reg.Lookup(h.URL())
	require.NoError(t, err)
	data, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	// Two references outstanding: owner + lookup.
	got.Release()
	assert.False(t, h.Revoked())
	h.Release()
	assert.True(t, h.Revoked())
	assert.Equal(t, 0, reg.Live())

	_, err = h.Bytes()
	assert.ErrorIs(t, err, ErrRevoked)
	_, err = reg.Lookup(h.URL())
	assert.Error(t, err)
}

func TestIdenticalPayloadsGetDistinctURLs(t *testing.T) {
	reg := NewRegistry("test", nil)
	a := reg.Create([]byte("same"), "image/jpeg")
	b := reg.Create([]byte("same"), "image/jpeg")
	assert.NotEqual(t, a.URL(), b.URL())
	assert.Equal(t, 2, reg.Live())
}

func TestRetainAfterRevokeFails(t *testing.T) {
	reg := NewRegistry("test", nil)
	h := reg.Create([]byte("x"), "image/png")
	reg.Revoke(h.URL())

	assert.ErrorIs(t, h.Retain(), ErrRevoked)
	// Releasing a revoked handle must not panic or go negative.
	h.Release()
	assert.Equal(t, 0, h.Len())
}

func TestRevokeAll(t *testing.T) {
	reg := NewRegistry("test", nil)
	hs := []*Handle{
		reg.Create([]byte("a"), "image/jpeg"),
		reg.Create([]byte("b"), "image/jpeg"),
		reg.Create([]byte("c"), "image/jpeg"),
	}
	require.NoError(t, hs[0].Retain())

	assert.Equal(t, 3, reg.RevokeAll())
	assert.Equal(t, 0, reg.Live())
	for _, h := range hs {
		assert.True(t, h.Revoked(), h.URL())
	}
	assert.Equal(t, 0, reg.RevokeAll())
}

func TestDataURL(t *testing.T) {
	reg := NewRegistry("test", nil)
	h := reg.Create([]byte("hi"), "image/jpeg")
	u, err := h.DataURL()
	require.NoError(t, err)
	assert.Equal(t, "data:image/jpeg;base64,aGk=", u)
	assert.True(t, IsURL(h.URL()))
	assert.False(t, IsURL(u))
}
