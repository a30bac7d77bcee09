package common

import "testing"

func TestRootCAs(t *testing.T) {
	t.Parallel()

	if p := RootCAs(); len(p.Subjects()) == 0 {
		t.Error("RootCAs() pool is empty")
	}
}
