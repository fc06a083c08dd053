package cache

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// writeArchive tars and compresses the contents of dir into w. The
// archive stores paths relative to dir, so it can be extracted
// anywhere.
func writeArchive(w io.Writer, dir string) (ArchiveInfo, error) {
	var info ArchiveInfo

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return info, err
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		link := ""
		if fi.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		info.WrittenEntries++

		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck // File only open for read.

		n, err := io.Copy(tw, f)
		info.WrittenBytes += n
		return err
	})
	if err != nil {
		return info, err
	}

	if err := tw.Close(); err != nil {
		return info, err
	}
	return info, zw.Close()
}

// extractArchive unpacks src into dir, creating it if needed. Entry
// names are confined to dir; anything trying to escape is rejected.
func extractArchive(src io.Reader, dir string) (ArchiveInfo, error) {
	var info ArchiveInfo

	zr, err := zstd.NewReader(src)
	if err != nil {
		return info, err
	}
	defer zr.Close()

	if err := os.MkdirAll(dir, 0o777); err != nil {
		return info, err
	}

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return info, nil
		}
		if err != nil {
			return info, err
		}

		target, err := confine(dir, hdr.Name)
		if err != nil {
			return info, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode)); err != nil {
				return info, err
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
				return info, err
			}
			if err := os.RemoveAll(target); err != nil {
				return info, err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return info, err
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
				return info, err
			}
			n, err := writeFile(target, tr, fs.FileMode(hdr.Mode))
			if err != nil {
				return info, err
			}
			info.WrittenBytes += n

		default:
			// Exotic entry types (devices, FIFOs) have no business in a
			// dependency cache.
			continue
		}
		info.WrittenEntries++
	}
}

func writeFile(target string, src io.Reader, mode fs.FileMode) (int64, error) {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// confine joins name under dir, rejecting path traversal.
func confine(dir, name string) (string, error) {
	target := filepath.Clean(filepath.Join(dir, name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid archive entry path %q", name)
	}
	return target, nil
}
