package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A termination signal may arrive before Start has built anything; Stop
// must still return cleanly.
func TestStopBeforeStart(t *testing.T) {
	a := New("/nosuch.yml")

	require.NotPanics(t, func() {
		a.Stop()
	})
}
