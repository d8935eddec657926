package server

import "testing"

func TestSplitNamespacePath(t *testing.T) {
	cases := []struct {
		in       string
		wantNS   string
		wantRest []string
		wantOK   bool
	}{
		{"/ns/graph/g", "ns", []string{"graph", "g"}, true},
		{"ns/graph/g", "ns", []string{"graph", "g"}, true},
		{"/ns/nodes/register", "ns", []string{"nodes", "register"}, true},
		{"/ns", "", nil, false},
		{"", "", nil, false},
		{"/", "", nil, false},
	}

	for _, c := range cases {
		ns, rest, ok := splitNamespacePath(c.in)
		if ok != c.wantOK {
			t.Errorf("splitNamespacePath(%q) ok = %v, want %v", c.in, ok, c.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if ns != c.wantNS {
			t.Errorf("splitNamespacePath(%q) ns = %q, want %q", c.in, ns, c.wantNS)
		}
		if len(rest) != len(c.wantRest) {
			t.Errorf("splitNamespacePath(%q) rest = %v, want %v", c.in, rest, c.wantRest)
			continue
		}
		for i := range rest {
			if rest[i] != c.wantRest[i] {
				t.Errorf("splitNamespacePath(%q) rest = %v, want %v", c.in, rest, c.wantRest)
				break
			}
		}
	}
}
