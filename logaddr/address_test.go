package logaddr

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGlobalAddressIsGlobal(t *testing.T) {
	a := Global(42)
	require.True(t, a.IsGlobal())
	_, ok := a.Stream()
	require.False(t, ok)
	require.EqualValues(t, 42, a.Address)
}

func TestInStreamAddressReportsItsStream(t *testing.T) {
	s := uuid.New()
	a := InStream(7, s)
	require.False(t, a.IsGlobal())
	got, ok := a.Stream()
	require.True(t, ok)
	require.Equal(t, s, got)
}

func TestLogAddressEquality(t *testing.T) {
	s := uuid.New()
	require.Equal(t, Global(1), Global(1))
	require.NotEqual(t, Global(1), Global(2))
	require.Equal(t, InStream(1, s), InStream(1, s))
	require.NotEqual(t, Global(1), InStream(1, s))
}

func TestLogAddressUsableAsMapKey(t *testing.T) {
	m := map[LogAddress]string{
		Global(1): "global-one",
	}
	v, ok := m[Global(1)]
	require.True(t, ok)
	require.Equal(t, "global-one", v)
}

func TestLogAddressString(t *testing.T) {
	require.Equal(t, "global:1", Global(1).String())
	s := uuid.New()
	require.Equal(t, s.String()+":2", InStream(2, s).String())
}
