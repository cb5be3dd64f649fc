package fixtures

import (
	"io"

	gomp4 "github.com/abema/go-mp4"
	"github.com/orcaman/writerseeker"
)

// boxWriter writes nested MP4 boxes into memory.
type boxWriter struct {
	buf *writerseeker.WriterSeeker
	w   *gomp4.Writer
}

func newBoxWriter() *boxWriter {
	buf := &writerseeker.WriterSeeker{}
	return &boxWriter{
		buf: buf,
		w:   gomp4.NewWriter(buf),
	}
}

// start writes the header and the payload of a box and leaves it open.
// It returns the offset of the box.
func (w *boxWriter) start(box gomp4.IImmutableBox) (int, error) {
	bi, err := w.w.StartBox(&gomp4.BoxInfo{Type: box.GetType()})
	if err != nil {
		return 0, err
	}

	_, err = gomp4.Marshal(w.w, box, gomp4.Context{})
	if err != nil {
		return 0, err
	}

	return int(bi.Offset), nil
}

// end closes the last open box and fills its size.
func (w *boxWriter) end() error {
	_, err := w.w.EndBox()
	return err
}

func (w *boxWriter) box(box gomp4.IImmutableBox) (int, error) {
	off, err := w.start(box)
	if err != nil {
		return 0, err
	}

	return off, w.end()
}

// rewrite overwrites a box that has already been written.
// The new box must have the same size.
func (w *boxWriter) rewrite(off int, box gomp4.IImmutableBox) error {
	prevOff, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	_, err = w.w.Seek(int64(off), io.SeekStart)
	if err != nil {
		return err
	}

	_, err = w.box(box)
	if err != nil {
		return err
	}

	_, err = w.w.Seek(prevOff, io.SeekStart)
	return err
}

func (w *boxWriter) bytes() ([]byte, error) {
	return io.ReadAll(w.buf.Reader())
}
