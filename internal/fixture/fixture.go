// Package fixture builds image and video fixtures for tests.
package fixture

import (
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"
)

// Frame sizes used by the fixtures.
const (
	Width  = 640
	Height = 480
)

// SolidFrame returns a BGR frame filled with one colour. The caller closes it.
func SolidFrame(b, g, r uint8) *gocv.Mat {
	m := gocv.NewMatWithSize(Height, Width, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(float64(b), float64(g), float64(r), 0))
	return &m
}

// WriteImage writes a solid grey image to dir/name and returns its path.
func WriteImage(dir, name string) (string, error) {
	frame := SolidFrame(90, 90, 90)
	defer frame.Close()

	path := filepath.Join(dir, name)
	if !gocv.IMWrite(path, *frame) {
		return "", fmt.Errorf("write image %s", path)
	}
	return path, nil
}

// WriteVideo writes an MJPG video with n frames at fps to dir/name and
// returns its path. Each frame gets a slightly different shade so encoders
// do not collapse them. name should end in .avi.
func WriteVideo(dir, name string, n int, fps float64) (string, error) {
	path := filepath.Join(dir, name)
	w, err := gocv.VideoWriterFile(path, "MJPG", fps, Width, Height, true)
	if err != nil {
		return "", fmt.Errorf("open video writer %s: %w", path, err)
	}
	defer w.Close()

	if !w.IsOpened() {
		return "", fmt.Errorf("open video writer %s", path)
	}

	for i := range n {
		shade := uint8(40 + (i*7)%180)
		frame := SolidFrame(shade, shade, shade)
		err := w.Write(*frame)
		frame.Close()
		if err != nil {
			return "", fmt.Errorf("write frame %d: %w", i, err)
		}
	}
	return path, nil
}
