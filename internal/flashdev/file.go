package flashdev

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// FileDevice backs a Device with a flat file on a conventional filesystem,
// for local development and manual testing without real NOR hardware. It
// makes no attempt to model program/erase latency or wear — only the
// bit-clear-only contract, so engine code exercised against it behaves the
// same as it would against SimDevice or real flash.
type FileDevice struct {
	f         *os.File
	pageWords int
	pageCount int
}

// OpenFileDevice opens (creating if necessary) a file of exactly
// pageWords*pageCount*4 bytes to back a Device. A freshly created file is
// initialized to the all-ones erased state for every page.
func OpenFileDevice(path string, pageWords, pageCount int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "flashdev: open backing file")
	}
	size := int64(pageWords) * int64(pageCount) * 4
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "flashdev: stat backing file")
	}
	d := &FileDevice{f: f, pageWords: pageWords, pageCount: pageCount}
	if info.Size() == 0 {
		if err := d.initErased(size); err != nil {
			f.Close()
			return nil, err
		}
	} else if info.Size() != size {
		f.Close()
		return nil, errors.Errorf("flashdev: backing file size %d does not match geometry %d", info.Size(), size)
	}
	return d, nil
}

func (d *FileDevice) initErased(size int64) error {
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = 0xFF
	}
	var written int64
	for written < size {
		n := int64(len(buf))
		if size-written < n {
			n = size - written
		}
		if _, err := d.f.WriteAt(buf[:n], written); err != nil {
			return errors.Wrap(err, "flashdev: initialize backing file")
		}
		written += n
	}
	return d.f.Sync()
}

func (d *FileDevice) PageWords() int { return d.pageWords }
func (d *FileDevice) PageCount() int { return d.pageCount }

func (d *FileDevice) offset(page, wordOffset int) int64 {
	return (int64(page)*int64(d.pageWords) + int64(wordOffset)) * 4
}

func (d *FileDevice) bounds(page, wordOffset, n int) error {
	if page < 0 || page >= d.pageCount {
		return ErrOutOfRange
	}
	if wordOffset < 0 || n < 0 || wordOffset+n > d.pageWords {
		return ErrOutOfRange
	}
	return nil
}

func (d *FileDevice) ReadWords(page, wordOffset, n int) ([]uint32, error) {
	if err := d.bounds(page, wordOffset, n); err != nil {
		return nil, err
	}
	buf := make([]byte, n*4)
	if _, err := d.f.ReadAt(buf, d.offset(page, wordOffset)); err != nil {
		return nil, errors.Wrap(err, "flashdev: read words")
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out, nil
}

func (d *FileDevice) ProgramWords(page, wordOffset int, words []uint32) error {
	if err := d.bounds(page, wordOffset, len(words)); err != nil {
		return err
	}
	cur, err := d.ReadWords(page, wordOffset, len(words))
	if err != nil {
		return err
	}
	buf := make([]byte, len(words)*4)
	for i, target := range words {
		if cur[i]&target != target {
			return ErrNotErased
		}
		binary.LittleEndian.PutUint32(buf[i*4:], target)
	}
	if _, err := d.f.WriteAt(buf, d.offset(page, wordOffset)); err != nil {
		return errors.Wrap(err, "flashdev: program words")
	}
	return d.f.Sync()
}

func (d *FileDevice) Erase(page int) error {
	if page < 0 || page >= d.pageCount {
		return ErrOutOfRange
	}
	buf := make([]byte, d.pageWords*4)
	for i := range buf {
		buf[i] = 0xFF
	}
	if _, err := d.f.WriteAt(buf, d.offset(page, 0)); err != nil {
		return errors.Wrap(err, "flashdev: erase page")
	}
	return d.f.Sync()
}

// Close releases the backing file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}
