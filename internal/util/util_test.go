package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeRelative(t *testing.T) {
	require.Equal(t, "user/d/file", MakeRelative("/user/d/file"))
	require.Equal(t, "user/d/file", MakeRelative("user/d/file"))
	require.Equal(t, "", MakeRelative("/"))
}
