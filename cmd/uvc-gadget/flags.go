package main

import (
	flag "github.com/spf13/pflag"
)

// CLI surface per spec §6; parsing semantics (usage text, validation) are
// out of scope (§1) beyond the declarations and defaults themselves, the
// way alohartcd's help.go only declares flags and leaves interpretation to
// main().
var (
	flagBulkMode      bool
	flagDummyData     bool
	flagFormat        int
	flagMJPEGImage    string
	flagMult          int
	flagNBufs         int
	flagIOMode        int
	flagResolution    int
	flagSpeed         int
	flagBurst         int
	flagUVCDevice     string
	flagCaptureDevice string
	flagHelp          bool
)

func init() {
	flag.BoolVar(&flagBulkMode, "bulk-mode", false, "use bulk transfers instead of isochronous")
	flag.BoolVar(&flagDummyData, "dummy-data", false, "standalone mode: synthesize frames instead of bridging a capture device")
	flag.IntVar(&flagFormat, "format", 0, "pixel format: 0=YUYV, 1=MJPEG")
	flag.StringVar(&flagMJPEGImage, "mjpeg-image", "", "path to a still JPEG image to serve in standalone MJPEG mode")
	flag.IntVar(&flagMult, "mult", 0, "isochronous transaction multiplier, 0-2")
	flag.IntVar(&flagNBufs, "nbufs", 4, "number of buffers per endpoint, 2-32")
	flag.IntVar(&flagIOMode, "io-mode", 0, "buffer I/O mode: 0=mapped, 1=userptr")
	flag.IntVar(&flagResolution, "resolution", 0, "frame size: 0=360p, 1=720p")
	flag.IntVar(&flagSpeed, "speed", 1, "USB speed: 0=full, 1=high, 2=super")
	flag.IntVar(&flagBurst, "burst", 0, "isochronous burst size, 0-15")
	flag.StringVarP(&flagUVCDevice, "uvc-device", "u", "/dev/video0", "UVC gadget function node")
	flag.StringVarP(&flagCaptureDevice, "capture-device", "c", "", "capture device to bridge (bridged mode; empty selects standalone)")
	flag.BoolVarP(&flagHelp, "help", "h", false, "print usage information and exit")
}
