package wire

import "testing"

func TestCompatibleVersion(t *testing.T) {
	cases := []struct {
		peer string
		want bool
	}{
		{ProtocolVersion, true},
		{"1.9", true},
		{"1.0.7", true},
		{"2.0", false},
		{"0.9", false},
		{"", false},
		{"garbage", false},
	}

	for _, c := range cases {
		if got := CompatibleVersion(c.peer); got != c.want {
			t.Errorf("CompatibleVersion(%q) = %v, want %v", c.peer, got, c.want)
		}
	}
}
