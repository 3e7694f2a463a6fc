package ds

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet_OrderPreserved(t *testing.T) {
	s := NewSet(3, 1, 2, 1)
	require.Equal(t, []int{3, 1, 2}, s.Values())
	require.Equal(t, 3, s.Len())

	s.Remove(1)
	require.Equal(t, []int{3, 2}, s.Values())
	require.False(t, s.Contains(1))
	require.True(t, s.Contains(2))
}

func TestSet_Merge(t *testing.T) {
	a := NewSet("x", "y")
	b := NewSet("y", "z")
	a.Merge(b)
	require.Equal(t, []string{"x", "y", "z"}, a.Values())

	c := a.Copy()
	c.Remove("x")
	require.True(t, a.Contains("x"))
}

func TestSet_JSON(t *testing.T) {
	s := NewSet(5, 4)
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, `[5,4]`, string(data))

	var out Set[int]
	require.NoError(t, json.Unmarshal([]byte(`[9,8,9]`), &out))
	require.Equal(t, []int{9, 8}, out.Values())
}
