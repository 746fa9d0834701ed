package transfer

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsafePath is returned for archive entries that would land outside
// the destination.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Extract unpacks a tar stream compressed with c into root.
func Extract(r io.Reader, root string, c Compression) error {
	var src io.Reader = r
	switch c {
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		src = gz
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	// Entries are checked against the real root so that links created by
	// earlier entries are followed the way the kernel will follow them.
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return err
	}
	tr := tar.NewReader(src)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if err := extractEntry(tr, root, header); err != nil {
			return err
		}
	}
}

func extractEntry(tr *tar.Reader, root string, header *tar.Header) error {
	dest, err := within(root, header.Name)
	if err != nil {
		return err
	}
	mode := os.FileMode(header.Mode).Perm()

	switch header.Typeflag {
	case tar.TypeDir:
		if dest, err = resolved(root, dest, header.Name); err != nil {
			return err
		}
		return os.MkdirAll(dest, mode|0o700)

	case tar.TypeReg:
		if dest, err = resolvedParent(root, dest, header.Name); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		// An earlier entry may have left a link at this name.
		if fi, err := os.Lstat(dest); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			_ = os.Remove(dest)
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o600)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(out, tr)
		if err := out.Close(); copyErr == nil {
			copyErr = err
		}
		return copyErr

	case tar.TypeSymlink:
		if dest, err = resolvedParent(root, dest, header.Name); err != nil {
			return err
		}
		// Links resolving outside root are not recreated.
		link := header.Linkname
		if filepath.IsAbs(link) {
			return nil
		}
		target, err := follow(filepath.Dir(dest), link)
		if err != nil || !inside(root, target) {
			return nil
		}
		_ = os.Remove(dest)
		return os.Symlink(link, dest)

	case tar.TypeLink:
		target, err := within(root, header.Linkname)
		if err != nil {
			return err
		}
		if target, err = resolved(root, target, header.Linkname); err != nil {
			return err
		}
		if dest, err = resolvedParent(root, dest, header.Name); err != nil {
			return err
		}
		_ = os.Remove(dest)
		return os.Link(target, dest)
	}
	// Devices, fifos and other special entries are skipped.
	return nil
}

// within joins name under root and refuses results outside it.
func within(root, name string) (string, error) {
	dest := filepath.Join(root, filepath.FromSlash(name))
	if !inside(root, dest) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return dest, nil
}

// resolved follows the links in p and refuses results outside root.
func resolved(root, p, name string) (string, error) {
	resolvedPath, err := realPath(p)
	if err != nil {
		return "", err
	}
	if !inside(root, resolvedPath) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return resolvedPath, nil
}

// resolvedParent is resolved for the directory holding p; the final
// element is kept as is.
func resolvedParent(root, p, name string) (string, error) {
	dir, err := resolved(root, filepath.Dir(p), name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(p)), nil
}

// realPath evaluates the links of the longest existing prefix of p and
// appends the missing remainder.
func realPath(p string) (string, error) {
	var missing []string
	for {
		resolvedPath, err := filepath.EvalSymlinks(p)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolvedPath = filepath.Join(resolvedPath, missing[i])
			}
			return resolvedPath, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		missing = append(missing, filepath.Base(p))
		p = parent
	}
}

// follow resolves link relative to the real directory dir one element at a
// time, so ".." after a link steps out of the link's target.
func follow(dir, link string) (string, error) {
	cur := dir
	parts := strings.Split(filepath.ToSlash(link), "/")
	for i, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
			continue
		}
		next := filepath.Join(cur, part)
		resolvedPath, err := filepath.EvalSymlinks(next)
		if errors.Is(err, fs.ErrNotExist) {
			return filepath.Join(append([]string{next}, parts[i+1:]...)...), nil
		}
		if err != nil {
			return "", err
		}
		cur = resolvedPath
	}
	return cur, nil
}

func inside(root, p string) bool {
	return p == root || strings.HasPrefix(p, root+string(os.PathSeparator))
}
