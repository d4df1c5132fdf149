package v4l2uapi

/*
#include <linux/videodev2.h>
*/
import "C"

// CtrlID identifies a V4L2 user control (struct v4l2_control.id).
// See https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/v4l2-controls.h
type CtrlID = uint32

// User-class control IDs. Only the handful of controls this agent actually
// touches are bound here; the kernel defines many more.
const (
	CtrlBrightness CtrlID = C.V4L2_CID_BRIGHTNESS
	CtrlContrast   CtrlID = C.V4L2_CID_CONTRAST
)
