// Package synth generates gadget-side frame content for standalone mode,
// where there is no capture device feeding the dual queue: a solid-color
// YUYV pattern that shifts one shade per row, or a fixed MJPEG image
// replicated into every buffer. This stands in for the source's
// fill_frame/-dummy data path without a capture device backing it.
package synth

import "fmt"

// YUYV fills buf with w*h*2 bytes: each of the h rows is w*2 bytes of a
// single repeating byte value, starting at color and incrementing
// (wrapping at 256) once per row. It returns the number of bytes written
// and the color value to pass in on the next call.
func YUYV(buf []byte, width, height uint32, color uint8) (bytesUsed uint32, nextColor uint8, err error) {
	rowLen := width * 2
	need := rowLen * height
	if uint32(len(buf)) < need {
		return 0, color, fmt.Errorf("synth: buffer too small: need %d, have %d", need, len(buf))
	}

	c := color
	for row := uint32(0); row < height; row++ {
		start := row * rowLen
		line := buf[start : start+rowLen]
		for i := range line {
			line[i] = c
		}
		c++
	}
	return need, c, nil
}

// MJPEG copies image (a complete JPEG blob) into buf and returns its length.
func MJPEG(buf []byte, image []byte) (bytesUsed uint32, err error) {
	if len(buf) < len(image) {
		return 0, fmt.Errorf("synth: buffer too small for image: need %d, have %d", len(image), len(buf))
	}
	n := copy(buf, image)
	return uint32(n), nil
}
