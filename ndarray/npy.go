// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ndarray

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrCorrupt       = errors.New("ndarray: corrupt array file")
	ErrEntryNotFound = errors.New("ndarray: archive entry not found")
)

var npyMagic = []byte("\x93NUMPY")

var (
	descrRe   = regexp.MustCompile(`'descr':\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// Storage loads and saves arrays at filesystem paths. LoadEntry addresses one
// array inside a multi-array container, by name when name is non-empty and by
// position otherwise.
type Storage interface {
	Load(path string) (*Array, error)
	Save(a *Array, path string) error
	LoadEntry(path, name string, index int) (*Array, error)
}

// NPY stores single arrays as NumPy .npy files and reads entries out of .npz
// archives.
type NPY struct{}

var _ Storage = NPY{}

func (NPY) Load(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadNPY(bufio.NewReader(f))
}

func (NPY) Save(a *Array, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := WriteNPY(w, a); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (NPY) LoadEntry(path, name string, index int) (*Array, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		return nil, err
	}
	defer zr.Close()

	var entry *zip.File
	switch {
	case name != "":
		for _, f := range zr.File {
			if f.Name == name || f.Name == name+".npy" {
				entry = f
				break
			}
		}
	case index >= 0 && index < len(zr.File):
		entry = zr.File[index]
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s (name=%q index=%d)", ErrEntryNotFound, path, name, index)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, entry.Name, err)
	}
	defer rc.Close()
	return ReadNPY(bufio.NewReader(rc))
}

// Entry is one named array of an .npz archive.
type Entry struct {
	Name  string
	Array *Array
}

// WriteArchive writes entries, in order, as an uncompressed .npz archive.
func WriteArchive(path string, entries ...Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name + ".npy", Method: zip.Store})
		if err != nil {
			f.Close()
			return err
		}
		if err := WriteNPY(w, e.Array); err != nil {
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteNPY writes a as a version 1.0 .npy stream.
func WriteNPY(w io.Writer, a *Array) error {
	dt, err := dtypeOf(a.Data)
	if err != nil {
		return err
	}
	if n := dataLen(a.Data); n != a.Size() {
		return fmt.Errorf("ndarray: shape %v needs %d elements, got %d", a.Shape, a.Size(), n)
	}

	header := formatHeader(dt, a.Shape)
	var pre bytes.Buffer
	pre.Write(npyMagic)
	pre.Write([]byte{1, 0})
	_ = binary.Write(&pre, binary.LittleEndian, uint16(len(header)))
	pre.WriteString(header)
	if _, err := w.Write(pre.Bytes()); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, a.Data)
}

// ReadNPY reads a version 1.x, 2.x or 3.x .npy stream in C order.
func ReadNPY(r io.Reader) (*Array, error) {
	var pre [8]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return nil, fmt.Errorf("%w: preamble: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(pre[:6], npyMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	var hlen int
	switch pre[6] {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: header length: %v", ErrCorrupt, err)
		}
		hlen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: header length: %v", ErrCorrupt, err)
		}
		hlen = int(n)
	default:
		return nil, fmt.Errorf("%w: version %d.%d", ErrCorrupt, pre[6], pre[7])
	}

	hb := make([]byte, hlen)
	if _, err := io.ReadFull(r, hb); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	order, kind, size, shape, err := parseHeader(string(hb))
	if err != nil {
		return nil, err
	}

	if _, err := makeData(kind, size, 0); err != nil {
		return nil, err
	}
	n, ok := elements(shape)
	if !ok || n > math.MaxInt/size {
		return nil, fmt.Errorf("%w: shape %v too large", ErrCorrupt, shape)
	}

	// the header is untrusted: read what is there before allocating for it
	need := n * size
	raw, err := io.ReadAll(io.LimitReader(r, int64(need)))
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrCorrupt, err)
	}
	if len(raw) < need {
		return nil, fmt.Errorf("%w: data: %d of %d bytes", ErrCorrupt, len(raw), need)
	}

	a := &Array{Shape: shape}
	if a.Data, err = makeData(kind, size, n); err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(raw), order, a.Data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrCorrupt, err)
	}
	return a, nil
}

// elements multiplies out shape, reporting false on overflow.
func elements(shape []int) (int, bool) {
	n := 1
	for _, d := range shape {
		if d < 0 || (d > 0 && n > math.MaxInt/d) {
			return 0, false
		}
		n *= d
	}
	return n, true
}

func formatHeader(dt DType, shape []int) string {
	var sb strings.Builder
	sb.WriteString("{'descr': '")
	sb.WriteString(string(dt))
	sb.WriteString("', 'fortran_order': False, 'shape': (")
	for i, d := range shape {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(d))
	}
	if len(shape) == 1 {
		sb.WriteByte(',')
	}
	sb.WriteString("), }")

	// magic + version + length + header + newline is padded to 64 bytes
	used := len(npyMagic) + 2 + 2 + sb.Len() + 1
	sb.WriteString(strings.Repeat(" ", (64-used%64)%64))
	sb.WriteByte('\n')
	return sb.String()
}

func parseHeader(h string) (binary.ByteOrder, byte, int, []int, error) {
	dm := descrRe.FindStringSubmatch(h)
	fm := fortranRe.FindStringSubmatch(h)
	sm := shapeRe.FindStringSubmatch(h)
	if dm == nil || fm == nil || sm == nil {
		return nil, 0, 0, nil, fmt.Errorf("%w: header %q", ErrCorrupt, h)
	}
	if fm[1] == "True" {
		return nil, 0, 0, nil, fmt.Errorf("%w: fortran order", ErrUnsupportedType)
	}

	descr := dm[1]
	if len(descr) < 3 {
		return nil, 0, 0, nil, fmt.Errorf("%w: descr %q", ErrCorrupt, descr)
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch descr[0] {
	case '>':
		order = binary.BigEndian
	case '<', '|', '=':
	default:
		return nil, 0, 0, nil, fmt.Errorf("%w: descr %q", ErrCorrupt, descr)
	}
	size, err := strconv.Atoi(descr[2:])
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("%w: descr %q", ErrCorrupt, descr)
	}

	var shape []int
	for _, part := range strings.Split(sm[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 {
			return nil, 0, 0, nil, fmt.Errorf("%w: shape %q", ErrCorrupt, sm[1])
		}
		shape = append(shape, d)
	}
	if shape == nil {
		shape = []int{}
	}
	return order, descr[1], size, shape, nil
}
