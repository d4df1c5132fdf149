package v4l2uapi

// #include <linux/videodev2.h>
import "C"

// TimecodeType (v4l2_timecode.type)
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L886
type TimecodeType = uint32

const (
	TimecodeType24FPS TimecodeType = C.V4L2_TC_TYPE_24FPS
	TimecodeType25FPS TimecodeType = C.V4L2_TC_TYPE_25FPS
	TimecodeType30FPS TimecodeType = C.V4L2_TC_TYPE_30FPS
)

// Timecode (v4l2_timecode)
// https://elixir.bootlin.com/linux/latest/source/include/uapi/linux/videodev2.h#L875
type Timecode struct {
	Type    TimecodeType
	Flags   uint32
	Frames  uint8
	Seconds uint8
	Minutes uint8
	Hours   uint8
	_       [4]uint8 // userbits
}
