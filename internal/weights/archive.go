package weights

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Archive layout: one zip member per entry, named arr_0..arr_{n-1} and written
// in entry order. Each member holds the gonum binary encoding of the matrix.
// Loading follows member order, not names, since weight roles are positional.

func entryName(i int) string {
	return fmt.Sprintf("arr_%d", i)
}

// Save writes the archive to w
func (s *Set) Save(w io.Writer) error {
	zw := zip.NewWriter(w)
	for i, e := range s.entries {
		payload, err := e.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode weight entry %d: %w", i, err)
		}
		fw, err := zw.Create(entryName(i))
		if err != nil {
			return fmt.Errorf("create archive member %d: %w", i, err)
		}
		if _, err := fw.Write(payload); err != nil {
			return fmt.Errorf("write archive member %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close weight archive: %w", err)
	}
	return nil
}

// MarshalBinary returns the archive bytes
func (s *Set) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads an archive written by Save
func Load(r io.ReaderAt, size int64) (*Set, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open weight archive: %w", err)
	}
	entries := make([]*mat.Dense, 0, len(zr.File))
	for i, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive member %s: %w", f.Name, err)
		}
		payload, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read archive member %s: %w", f.Name, err)
		}
		var m mat.Dense
		if err := m.UnmarshalBinary(payload); err != nil {
			return nil, fmt.Errorf("decode weight entry %d (%s): %w", i, f.Name, err)
		}
		entries = append(entries, &m)
	}
	return New(entries...)
}

// UnmarshalBinary decodes archive bytes into a new Set
func UnmarshalBinary(data []byte) (*Set, error) {
	return Load(bytes.NewReader(data), int64(len(data)))
}

// SaveFile writes the archive to path
func (s *Set) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create weight file %s: %w", path, err)
	}
	if err := s.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads an archive from path
func LoadFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open weight file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat weight file %s: %w", path, err)
	}
	return Load(f, info.Size())
}
