// Package capture reads classroom footage with GoCV (OpenCV) and samples
// video frames for analysis.
package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

var (
	// ErrSourceClosed is returned when reading from a closed source.
	ErrSourceClosed = errors.New("video source is closed")
	// ErrUnreadableImage is returned when an image file cannot be decoded.
	ErrUnreadableImage = errors.New("image could not be decoded")
)

// VideoSource is a finite sequence of frames with known metadata.
type VideoSource interface {
	// Read decodes the next frame into dst. It returns false at the end of
	// the stream or after Close.
	Read(dst *gocv.Mat) bool
	// FrameCount returns the number of frames reported by the container, or
	// 0 if unknown.
	FrameCount() int
	// FPS returns the frame rate reported by the container, or 0 if unknown.
	FPS() float64
	// Size returns the frame dimensions.
	Size() (width, height int)
	// Close releases the source. It is safe to call more than once.
	Close() error
}

// videoFile manages decoding of a video file using GoCV.
type videoFile struct {
	path    string
	capture *gocv.VideoCapture
	mu      sync.Mutex
	closed  bool
}

// OpenVideo opens the video file at path for reading.
// The caller must Close the returned source.
func OpenVideo(path string) (VideoSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("open video %s: not a readable video", path)
	}

	return &videoFile{path: path, capture: capture}, nil
}

func (v *videoFile) Read(dst *gocv.Mat) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return false
	}
	if !v.capture.Read(dst) {
		return false
	}
	return !dst.Empty()
}

func (v *videoFile) FrameCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0
	}
	n := int(v.capture.Get(gocv.VideoCaptureFrameCount))
	if n < 0 {
		return 0
	}
	return n
}

func (v *videoFile) FPS() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0
	}
	fps := v.capture.Get(gocv.VideoCaptureFPS)
	if fps < 0 {
		return 0
	}
	return fps
}

func (v *videoFile) Size() (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0, 0
	}
	return int(v.capture.Get(gocv.VideoCaptureFrameWidth)),
		int(v.capture.Get(gocv.VideoCaptureFrameHeight))
}

// Close releases the underlying capture.
func (v *videoFile) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	return v.capture.Close()
}

// LoadImage decodes the image file at path as a BGR frame.
// The caller is responsible for closing the returned Mat.
func LoadImage(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.NewMat(), fmt.Errorf("load image: %w", err)
	}

	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		return img, fmt.Errorf("%w: %s", ErrUnreadableImage, path)
	}
	return img, nil
}
