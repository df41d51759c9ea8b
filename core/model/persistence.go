package model

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/prismlab/refindex/pkg/errors"
)

// SaveModel serializes any gob-encodable model to path, creating parent
// directories as needed. The write goes through a temp file and rename so a
// crash mid-save never leaves a truncated artifact behind.
func SaveModel(m interface{}, path string) (err error) {
	defer errors.Recover(&err, "model.SaveModel")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*.gob")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err = SaveModelToWriter(m, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	return os.Rename(tmpName, path)
}

// SaveModelToWriter gob-encodes a model to w.
func SaveModelToWriter(m interface{}, w io.Writer) (err error) {
	defer errors.Recover(&err, "model.SaveModelToWriter")
	if err := gob.NewEncoder(w).Encode(m); err != nil {
		return errors.Wrap(err, "encoding model")
	}
	return nil
}

// LoadModel deserializes a model from path into m, which must be a pointer
// to the same concrete type the model was saved from.
func LoadModel(m interface{}, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening model file %s", path)
	}
	defer func() { _ = f.Close() }()
	return LoadModelFromReader(m, f)
}

// LoadModelFromReader gob-decodes a model from r into m.
func LoadModelFromReader(m interface{}, r io.Reader) (err error) {
	defer errors.Recover(&err, "model.LoadModelFromReader")
	if err := gob.NewDecoder(r).Decode(m); err != nil {
		return errors.Wrap(err, "decoding model")
	}
	return nil
}
