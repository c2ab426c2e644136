package frame

import (
	"errors"
	"testing"
)

func TestFDEForPC(t *testing.T) {
	frames := FrameDescriptionEntries{
		&FrameDescriptionEntry{begin: 10, size: 40},
		&FrameDescriptionEntry{begin: 50, size: 50},
		&FrameDescriptionEntry{begin: 100, size: 100},
		&FrameDescriptionEntry{begin: 300, size: 10},
	}

	for _, test := range []struct {
		pc  uint64
		fde *FrameDescriptionEntry
	}{
		{0, nil},
		{9, nil},
		{10, frames[0]},
		{35, frames[0]},
		{49, frames[0]},
		{50, frames[1]},
		{75, frames[1]},
		{100, frames[2]},
		{199, frames[2]},
		{200, nil},
		{299, nil},
		{300, frames[3]},
		{309, frames[3]},
		{310, nil},
		{400, nil}} {

		out, err := frames.FDEForPC(test.pc)
		if test.fde != nil {
			if err != nil {
				t.Fatal(err)
			}
			if out != test.fde {
				t.Errorf("[pc = %#x] got incorrect fde\noutput:\t%#v\nexpected:\t%#v", test.pc, out, test.fde)
			}
		} else {
			if !errors.Is(err, ErrNoFDE) {
				t.Errorf("[pc = %#x] expected ErrNoFDE got fde %#v (%v)", test.pc, out, err)
			}
		}
	}
}

func TestAppendSortsAndDedups(t *testing.T) {
	a := FrameDescriptionEntries{
		&FrameDescriptionEntry{begin: 100, size: 10},
		&FrameDescriptionEntry{begin: 10, size: 10},
	}
	b := FrameDescriptionEntries{
		&FrameDescriptionEntry{begin: 10, size: 10},
		&FrameDescriptionEntry{begin: 50, size: 5},
	}
	r := a.Append(b)
	if len(r) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(r))
	}
	for i, begin := range []uint64{10, 50, 100} {
		if r[i].Begin() != begin {
			t.Errorf("entry %d: expected begin %d got %d", i, begin, r[i].Begin())
		}
	}
}
