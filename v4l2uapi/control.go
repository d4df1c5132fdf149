package v4l2uapi

/*
#include <linux/videodev2.h>
*/
import "C"
import (
	"fmt"
	"unsafe"
)

// CtrlValue represents the value for a user control (struct v4l2_control.value).
// See https://www.kernel.org/doc/html/latest/userspace-api/media/v4l/control.html
type CtrlValue = int32

// GetControlValue retrieves the value for a user control with the specified id.
func GetControlValue(fd uintptr, id CtrlID) (CtrlValue, error) {
	var ctrl C.struct_v4l2_control
	ctrl.id = C.uint(id)

	if err := send(fd, C.VIDIOC_G_CTRL, uintptr(unsafe.Pointer(&ctrl))); err != nil {
		return 0, fmt.Errorf("get control value: VIDIOC_G_CTRL: id %d: %w", id, err)
	}

	return CtrlValue(ctrl.value), nil
}

// SetControlValue sets the value for a user control with the specified id.
func SetControlValue(fd uintptr, id CtrlID, val CtrlValue) error {
	var ctrl C.struct_v4l2_control
	ctrl.id = C.uint(id)
	ctrl.value = C.int(val)

	if err := send(fd, C.VIDIOC_S_CTRL, uintptr(unsafe.Pointer(&ctrl))); err != nil {
		return fmt.Errorf("set control value: id %d: %w", id, err)
	}

	return nil
}
