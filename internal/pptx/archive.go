package pptx

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/types"
)

// ValidateInput checks that path names an existing .pptx file that opens as a zip archive
func ValidateInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewAppErrorWithDetails(types.ErrInput, "input file not found", path, nil)
		}
		return types.NewAppErrorWithDetails(types.ErrInput, "cannot access input file", path, err)
	}
	if info.IsDir() {
		return types.NewAppErrorWithDetails(types.ErrInput, "input is a directory", path, nil)
	}
	if !strings.EqualFold(filepath.Ext(path), ".pptx") {
		return types.NewAppErrorWithDetails(types.ErrInput, "input file must be a .pptx", path, nil)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return types.NewAppErrorWithDetails(types.ErrInput, "input is not a valid zip archive", path, err)
	}
	return zr.Close()
}

// Unpack extracts the archive at src into dst. Entries that would escape dst
// are rejected.
func Unpack(src, dst string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return types.NewAppErrorWithDetails(types.ErrInput, "input is not a valid zip archive", src, err)
	}
	defer zr.Close()

	base, err := filepath.Abs(dst)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		target := filepath.Join(base, filepath.FromSlash(f.Name))
		if target != base && !strings.HasPrefix(target, base+string(os.PathSeparator)) {
			return types.NewAppErrorWithDetails(types.ErrInput, "archive entry escapes extraction directory", f.Name, nil)
		}
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	logger.Debug("package unpacked", logger.String("src", src), logger.Int("entries", len(zr.File)))
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Repack writes every file below srcDir into a new archive at dstPath. The
// archive is written to a temporary file next to dstPath and renamed into
// place, so a failed repack never leaves a partial output behind.
func Repack(srcDir, dstPath string) error {
	var names []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return err
	}
	sort.SliceStable(names, func(i, j int) bool {
		// [Content_Types].xml first, as Office writes it
		ci, cj := names[i] == "[Content_Types].xml", names[j] == "[Content_Types].xml"
		if ci != cj {
			return ci
		}
		return names[i] < names[j]
	})

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".pptx-translate-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, name := range names {
		if err := addFile(zw, filepath.Join(srcDir, filepath.FromSlash(name)), name); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dstPath); err != nil {
		return err
	}
	committed = true

	logger.Debug("package repacked", logger.String("dst", dstPath), logger.Int("entries", len(names)))
	return nil
}

func addFile(zw *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
