package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockSource plays back in-memory frames for testing.
type MockSource struct {
	frames     []*gocv.Mat
	index      int
	fps        float64
	frameCount int
	reads      int
	mu         sync.Mutex
	closed     bool
}

// NewMockSource creates a source over frames at the given frame rate.
// The frames remain owned by the caller.
func NewMockSource(frames []*gocv.Mat, fps float64) *MockSource {
	return &MockSource{
		frames:     frames,
		fps:        fps,
		frameCount: len(frames),
	}
}

// Read copies the next frame into dst.
func (m *MockSource) Read(dst *gocv.Mat) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.index >= len(m.frames) {
		return false
	}

	// Copy so the consumer can't modify the original
	m.frames[m.index].CopyTo(dst)
	m.index++
	m.reads++
	return true
}

// FrameCount returns the reported frame count.
func (m *MockSource) FrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameCount
}

// SetFrameCount overrides the reported frame count, e.g. 0 for a container
// that does not know its length.
func (m *MockSource) SetFrameCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameCount = n
}

func (m *MockSource) FPS() float64 { return m.fps }

func (m *MockSource) Size() (int, int) {
	if len(m.frames) == 0 {
		return 0, 0
	}
	return m.frames[0].Cols(), m.frames[0].Rows()
}

// Close marks the source closed.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reads returns how many frames have been decoded.
func (m *MockSource) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
