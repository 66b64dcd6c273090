package cell

import (
	"testing"

	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/fault"
)

func TestAddressRoundTrip(t *testing.T) {
	p := calib.Default()

	all := All()
	if len(all) != 126 {
		t.Fatalf("expected 126 addresses, got %d", len(all))
	}

	for _, a := range all {
		x, y, err := Resolve(&p, a)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", a, err)
		}
		col, row, ok := Locate(&p, x, y)
		if !ok || col != a.Col || row != a.Row {
			t.Errorf("%s -> (%d,%d) -> (%d,%d), round-trip lost", a, x, y, col, row)
		}

		parsed, err := ParseAddress(a.String())
		if err != nil || parsed != a {
			t.Errorf("ParseAddress(%q) = %v, %v", a.String(), parsed, err)
		}
	}
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"", "front", "front:1", "left:1:1", "front:3:0", "front:0:21",
		"front:-1:0", "front:a:b", "front:0:0:0",
	} {
		if _, err := ParseAddress(s); !fault.IsKind(err, fault.Validation) {
			t.Errorf("ParseAddress(%q): expected validation error, got %v", s, err)
		}
	}
}
