package applier

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// atomicWrite replaces path through a synced temp file and a rename in the same
// directory, so readers see either the old or the new content.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".rework-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	committed = true
	return nil
}

// fileState captures a file before it is touched.
type fileState struct {
	path    string // absolute
	rel     string
	existed bool
	content []byte
	mode    os.FileMode
}

func captureState(abs, rel string) (fileState, error) {
	st := fileState{path: abs, rel: rel, mode: 0o644}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return st, err
	}
	st.existed = true
	st.content = data
	st.mode = info.Mode().Perm()
	return st, nil
}

// restore puts the file back the way captureState found it.
func (st fileState) restore() error {
	if !st.existed {
		err := os.Remove(st.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return atomicWrite(st.path, st.content, st.mode)
}
