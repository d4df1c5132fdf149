// Command uvc-gadget runs the UVC gadget agent: it terminates UVC control
// requests from a USB host and feeds video frames into the kernel's
// UVC-gadget endpoint, either synthesizing them itself or bridging them
// from a local capture device (spec §1).
package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/go4vl-uvc/uvcgadget"
	"github.com/go4vl-uvc/uvcgadget/catalog"
	"github.com/go4vl-uvc/uvcgadget/internal/logging"
	"github.com/go4vl-uvc/uvcgadget/orchestrator"
	"github.com/go4vl-uvc/uvcgadget/v4l2uapi"
)

func main() {
	flag.Parse()
	if flagHelp {
		flag.Usage()
		os.Exit(0)
	}

	log := logging.New(logging.LevelInfo, "main", os.Stderr)

	if err := run(log); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(log *logging.Logger) error {
	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	dev := uvcgadget.New(cfg, log)

	gadgetMemType := v4l2uapi.MemTypeMMAP
	captureMemType := v4l2uapi.MemTypeUserPtr
	if cfg.GadgetIOMode == v4l2uapi.MemTypeUserPtr {
		gadgetMemType = v4l2uapi.MemTypeUserPtr
		captureMemType = v4l2uapi.MemTypeMMAP
	}

	gadget, err := v4l2uapi.Open(cfg.UVCDevicePath, v4l2uapi.BufTypeVideoOutput, gadgetMemType)
	if err != nil {
		return fmt.Errorf("open gadget device: %w", err)
	}
	defer gadget.Close()

	if err := subscribeGadgetEvents(gadget); err != nil {
		return fmt.Errorf("subscribe gadget events: %w", err)
	}

	var capture *v4l2uapi.Endpoint
	if cfg.Role == uvcgadget.RoleBridged {
		capture, err = v4l2uapi.Open(cfg.CaptureDevPath, v4l2uapi.BufTypeVideoCapture, captureMemType)
		if err != nil {
			return fmt.Errorf("open capture device: %w", err)
		}
		defer capture.Close()

		if _, err := capture.SetFormat(v4l2uapi.PixFormat{
			Width: cfg.Width, Height: cfg.Height, PixelFormat: cfg.PixelFormat, Field: v4l2uapi.FieldNone,
		}); err != nil {
			return fmt.Errorf("set capture format: %w", err)
		}
		dev.SetCaptureControl(capture)
	}

	if _, err := gadget.SetFormat(v4l2uapi.PixFormat{
		Width: cfg.Width, Height: cfg.Height, PixelFormat: cfg.PixelFormat, Field: v4l2uapi.FieldNone,
	}); err != nil {
		return fmt.Errorf("set gadget format: %w", err)
	}

	loopCfg := orchestrator.Config{
		NBufs:      cfg.NBufs,
		GadgetMem:  gadgetMemType,
		CaptureMem: captureMemType,
	}

	var captureEndpoint v4l2uapi.VideoEndpoint
	if capture != nil {
		captureEndpoint = capture
	}

	loop := orchestrator.New(dev, loopCfg, gadget, captureEndpoint)
	log.Infof("starting event loop: role=%v bulk=%v device=%s", cfg.Role, cfg.BulkMode, cfg.UVCDevicePath)
	return loop.Run(context.Background())
}

// subscribeGadgetEvents subscribes to every UVC-gadget private event plus
// disconnect, per §4.5's event loop requirements.
func subscribeGadgetEvents(ep *v4l2uapi.Endpoint) error {
	types := []v4l2uapi.EventType{
		v4l2uapi.UVCEventConnect,
		v4l2uapi.UVCEventDisconnect,
		v4l2uapi.UVCEventStreamOn,
		v4l2uapi.UVCEventStreamOff,
		v4l2uapi.UVCEventSetup,
		v4l2uapi.UVCEventData,
	}
	for _, t := range types {
		if err := ep.SubscribeEvent(t); err != nil {
			return err
		}
	}
	return nil
}

func buildConfig() (uvcgadget.Config, error) {
	cfg := uvcgadget.Config{
		BulkMode:       flagBulkMode,
		Speed:          uvcgadget.Speed(flagSpeed),
		Mult:           uint32(flagMult),
		Burst:          uint32(flagBurst),
		NBufs:          uint32(flagNBufs),
		UVCDevicePath:  flagUVCDevice,
		CaptureDevPath: flagCaptureDevice,
	}

	if flagNBufs < 2 || flagNBufs > 32 {
		return cfg, fmt.Errorf("nbufs must be in [2, 32], got %d", flagNBufs)
	}

	switch flagFormat {
	case 0:
		cfg.PixelFormat = v4l2uapi.PixelFmtYUYV
	case 1:
		cfg.PixelFormat = v4l2uapi.PixelFmtMJPEG
	default:
		return cfg, fmt.Errorf("unsupported format index %d", flagFormat)
	}

	frame := catalog.FrameAt(catalog.At(1), 1)
	if flagResolution == 1 {
		frame = catalog.FrameAt(catalog.At(1), 2)
	}
	cfg.Width, cfg.Height = frame.Width, frame.Height

	switch flagIOMode {
	case 0:
		cfg.GadgetIOMode = v4l2uapi.MemTypeMMAP
	case 1:
		cfg.GadgetIOMode = v4l2uapi.MemTypeUserPtr
	default:
		return cfg, fmt.Errorf("unsupported io-mode %d", flagIOMode)
	}

	if flagCaptureDevice != "" && !flagDummyData {
		cfg.Role = uvcgadget.RoleBridged
	} else {
		cfg.Role = uvcgadget.RoleStandalone
	}

	if cfg.Role == uvcgadget.RoleStandalone && flagFormat == 1 {
		if flagMJPEGImage == "" {
			return cfg, fmt.Errorf("mjpeg-image is required when format=MJPEG in standalone mode")
		}
		blob, err := os.ReadFile(flagMJPEGImage)
		if err != nil {
			return cfg, fmt.Errorf("read mjpeg-image: %w", err)
		}
		cfg.ImageBlob = blob
	}

	return cfg, nil
}
