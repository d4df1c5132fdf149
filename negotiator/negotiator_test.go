package negotiator

import "testing"

func TestFillStreamingControlDefaultsToSmallestInterval(t *testing.T) {
	ctrl, res := FillStreamingControl(1, 1, TransferParams{Bulk: false, MaxPacket: 1024, Mult: 0, Burst: 0}, 0)

	if ctrl.FormatIndex != 1 || ctrl.FrameIndex != 1 {
		t.Fatalf("unexpected indices: %+v", ctrl)
	}
	if ctrl.FrameInterval != 666666 {
		t.Errorf("expected smallest interval 666666, got %d", ctrl.FrameInterval)
	}
	if ctrl.MaxVideoFrameSize != 640*360*2 {
		t.Errorf("expected YUYV 640x360 frame size, got %d", ctrl.MaxVideoFrameSize)
	}
	if res.Width != 640 || res.Height != 360 {
		t.Errorf("unexpected resolution: %+v", res)
	}
}

func TestFillStreamingControlClampsOutOfRange(t *testing.T) {
	ctrl, _ := FillStreamingControl(0, 0, TransferParams{}, 0)
	if ctrl.FormatIndex != 1 || ctrl.FrameIndex != 1 {
		t.Errorf("expected clamp to (1,1), got (%d,%d)", ctrl.FormatIndex, ctrl.FrameIndex)
	}

	ctrl2, _ := FillStreamingControl(-1, -1, TransferParams{}, 0)
	if ctrl2.FormatIndex != 2 || ctrl2.FrameIndex != 2 {
		t.Errorf("expected negative indices to resolve to the last entries, got (%d,%d)", ctrl2.FormatIndex, ctrl2.FrameIndex)
	}
}

func TestApplyCommitLatchesResolution(t *testing.T) {
	in := StreamingControl{FormatIndex: 2, FrameIndex: 2, FrameInterval: 50000000}
	var commit StreamingControl
	res := Apply(&commit, in, TransferParams{Bulk: true}, 123456)

	if res.Width != 1280 || res.Height != 720 {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if commit.MaxVideoFrameSize != 123456 {
		t.Errorf("expected MJPEG blob size latched, got %d", commit.MaxVideoFrameSize)
	}
	if commit.MaxPayloadTransferSize != commit.MaxVideoFrameSize {
		t.Errorf("bulk mode should set payload size = frame size, got %d vs %d",
			commit.MaxPayloadTransferSize, commit.MaxVideoFrameSize)
	}
}

func TestApplyIsocPayloadSize(t *testing.T) {
	in := StreamingControl{FormatIndex: 1, FrameIndex: 1}
	var probe StreamingControl
	Apply(&probe, in, TransferParams{Bulk: false, MaxPacket: 1024, Mult: 1, Burst: 2}, 0)

	want := uint32(1024 * 2 * 3)
	if probe.MaxPayloadTransferSize != want {
		t.Errorf("isoc payload size = %d, want %d", probe.MaxPayloadTransferSize, want)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	ctrl, _ := FillStreamingControl(1, 1, TransferParams{Bulk: false, MaxPacket: 1024}, 0)
	wire := ctrl.Marshal()

	got, err := Unmarshal(wire[:])
	if err != nil {
		t.Fatal(err)
	}
	if got != ctrl {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, ctrl)
	}
}

func TestFillThenSetCurRoundTrip(t *testing.T) {
	// R1: GET_MIN (fill at 0,0) followed by SET_CUR of that structure should
	// yield a probe identical to fill_streaming_control(probe, 0, 0).
	tp := TransferParams{Bulk: false, MaxPacket: 1024}
	want, _ := FillStreamingControl(0, 0, tp, 0)

	var probe StreamingControl
	Apply(&probe, want, tp, 0)

	if probe != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", probe, want)
	}
}
