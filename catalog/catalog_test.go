package catalog

import "testing"

func TestResolveFormatIndexClamps(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 2},
		{-1, 2},
		{-2, 1},
	}
	for _, c := range cases {
		if got := ResolveFormatIndex(c.in); got != c.want {
			t.Errorf("ResolveFormatIndex(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestResolveFrameIndexClamps(t *testing.T) {
	format := At(1)
	cases := []struct {
		in   int
		want int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{5, 2},
		{-1, 2},
	}
	for _, c := range cases {
		if got := ResolveFrameIndex(format, c.in); got != c.want {
			t.Errorf("ResolveFrameIndex(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestResolveIntervalBoundary(t *testing.T) {
	frame := FrameAt(At(1), 1) // intervals {666666, 10000000, 50000000}

	if got := ResolveInterval(frame, 0); got != 666666 {
		t.Errorf("interval below smallest: got %d, want smallest 666666", got)
	}
	if got := ResolveInterval(frame, 1_000_000_000); got != 50000000 {
		t.Errorf("interval above largest: got %d, want largest 50000000", got)
	}
	if got := ResolveInterval(frame, 9999999); got != 10000000 {
		t.Errorf("interval between entries: got %d, want 10000000", got)
	}
}

func TestMaxVideoFrameSize(t *testing.T) {
	yuyv := At(1)
	frame360 := FrameAt(yuyv, 1)
	if got := MaxVideoFrameSize(yuyv, frame360, 0); got != 640*360*2 {
		t.Errorf("YUYV max frame size = %d, want %d", got, 640*360*2)
	}

	mjpeg := At(2)
	if got := MaxVideoFrameSize(mjpeg, frame360, 12345); got != 12345 {
		t.Errorf("MJPEG max frame size = %d, want blob size 12345", got)
	}
	if got := MaxVideoFrameSize(mjpeg, frame360, 0); got != 0 {
		t.Errorf("MJPEG max frame size with no blob = %d, want 0", got)
	}
}
