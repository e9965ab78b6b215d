package frame

import (
	"fmt"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	_ "golang.org/x/image/tiff"
)

// Source yields color frames by index. Read returns a Mat owned by the caller.
type Source interface {
	Len() int
	Read(index int) (gocv.Mat, error)
	Close() error
}

func checkIndex(index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("%w: index %d outside [0,%d)", ErrFrameUnreadable, index, n)
	}
	return nil
}

type videoSource struct {
	path    string
	capture *gocv.VideoCapture
	frames  int
}

// OpenVideo opens a video file and seeks by frame number on every Read.
func OpenVideo(path string) (Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open video %s", path)
	}
	return &videoSource{
		path:    path,
		capture: capture,
		frames:  int(capture.Get(gocv.VideoCaptureFrameCount)),
	}, nil
}

func (v *videoSource) Len() int { return v.frames }

func (v *videoSource) Read(index int) (gocv.Mat, error) {
	if err := checkIndex(index, v.frames); err != nil {
		return gocv.NewMat(), err
	}
	v.capture.Set(gocv.VideoCapturePosFrames, float64(index))

	m := gocv.NewMat()
	if ok := v.capture.Read(&m); !ok || m.Empty() {
		m.Close()
		return gocv.NewMat(), fmt.Errorf("%w: %s frame %d", ErrFrameUnreadable, v.path, index)
	}
	return m, nil
}

func (v *videoSource) Close() error { return v.capture.Close() }

var stillExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true,
}

type imageDirSource struct {
	paths []string
}

// OpenImageDir treats the still images in dir, sorted by name, as frames.
func OpenImageDir(dir string) (Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if stillExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(paths)
	return &imageDirSource{paths: paths}, nil
}

func (s *imageDirSource) Len() int { return len(s.paths) }

func (s *imageDirSource) Read(index int) (gocv.Mat, error) {
	if err := checkIndex(index, len(s.paths)); err != nil {
		return gocv.NewMat(), err
	}
	img, err := imaging.Open(s.paths[index], imaging.AutoOrientation(true))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrFrameUnreadable, err)
	}
	return FromImage(img)
}

// Path returns the file behind frame index.
func (s *imageDirSource) Path(index int) string { return s.paths[index] }

func (s *imageDirSource) Close() error { return nil }

type matSource struct {
	frames []gocv.Mat
}

// NewMatSource serves frames from memory. The source takes ownership of
// frames and Read hands out clones.
func NewMatSource(frames []gocv.Mat) Source {
	return &matSource{frames: frames}
}

func (s *matSource) Len() int { return len(s.frames) }

func (s *matSource) Read(index int) (gocv.Mat, error) {
	if err := checkIndex(index, len(s.frames)); err != nil {
		return gocv.NewMat(), err
	}
	if s.frames[index].Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: frame %d is empty", ErrFrameUnreadable, index)
	}
	return s.frames[index].Clone(), nil
}

func (s *matSource) Close() error {
	for _, m := range s.frames {
		m.Close()
	}
	s.frames = nil
	return nil
}
