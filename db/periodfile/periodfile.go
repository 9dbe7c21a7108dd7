// Period files: one physical container per period of time, holding named 2-D datasets.
//
// A container is a CBOR document, optionally gzip-compressed (detected by the gzip magic number,
// not the file name).  Each dataset is a matrix of time steps x entities with an ascending
// timestamp index aligned to the rows, entity labels aligned to the columns, and an optional
// boolean missing-data matrix of the same shape where true marks a sample known to be absent or
// garbled - distinct from a zero-valued sample.
//
// Containers are immutable once written and this package never mutates one; the writer exists for
// archivers and tests and always writes a complete new file.

package periodfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"

	"iostitch/errs"
)

const (
	formatVersion   = 1
	filePermissions = 0644
)

// Dataset is one named 2-D matrix within a period file.  Values has len(Timestamps) rows of
// len(Columns) elements each; Missing is nil or has the identical shape.  Timestamps are Unix
// seconds, strictly ascending.
type Dataset struct {
	Name       string      `cbor:"-"`
	Timestamps []int64     `cbor:"timestamps"`
	Columns    []string    `cbor:"columns"`
	Values     [][]float64 `cbor:"values"`
	Missing    [][]bool    `cbor:"missing,omitempty"`
}

type fileRepr struct {
	Version  int                 `cbor:"version"`
	Datasets map[string]*Dataset `cbor:"datasets"`
}

// Rows returns the number of time steps.
func (d *Dataset) Rows() int {
	return len(d.Timestamps)
}

// IsMissing is true if the sample at (row, col) is known-absent.  A dataset without a mask is
// assumed fully valid.
func (d *Dataset) IsMissing(row, col int) bool {
	return d.Missing != nil && d.Missing[row][col]
}

// validate enforces the structural invariants; violations are CorruptDataError.
func (d *Dataset) validate(path, name string) error {
	if len(d.Values) != len(d.Timestamps) {
		return errs.Corrupt(path, "dataset %s: %d rows for %d timestamps",
			name, len(d.Values), len(d.Timestamps))
	}
	for i, row := range d.Values {
		if len(row) != len(d.Columns) {
			return errs.Corrupt(path, "dataset %s: row %d has %d values for %d columns",
				name, i, len(row), len(d.Columns))
		}
	}
	if d.Missing != nil {
		if len(d.Missing) != len(d.Timestamps) {
			return errs.Corrupt(path, "dataset %s: missing-data mask has wrong row count", name)
		}
		for i, row := range d.Missing {
			if len(row) != len(d.Columns) {
				return errs.Corrupt(path, "dataset %s: missing-data mask row %d has wrong width",
					name, i)
			}
		}
	}
	for i := 1; i < len(d.Timestamps); i++ {
		if d.Timestamps[i] <= d.Timestamps[i-1] {
			return errs.Corrupt(path, "dataset %s: timestamps not ascending at index %d", name, i)
		}
	}
	return nil
}

// MT: Constant after initialization; thread-safe
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()
	if err != nil {
		panic(err)
	}
}

var gzipMagic = []byte{0x1f, 0x8b}

func readContainer(filename string) (*fileRepr, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", errs.ErrFileAbsent, filename)
		}
		return nil, err
	}
	if bytes.HasPrefix(raw, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errs.Corrupt(filename, "bad gzip stream: %v", err)
		}
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, errs.Corrupt(filename, "bad gzip stream: %v", err)
		}
		if err := zr.Close(); err != nil {
			return nil, errs.Corrupt(filename, "bad gzip stream: %v", err)
		}
	}
	var repr fileRepr
	if err := decMode.Unmarshal(raw, &repr); err != nil {
		return nil, errs.Corrupt(filename, "not a period file: %v", err)
	}
	if repr.Version != formatVersion {
		return nil, errs.Corrupt(filename, "unsupported container version %d", repr.Version)
	}
	return &repr, nil
}

// ReadDataset opens the container at filename and returns the named dataset.  A missing container
// is ErrFileAbsent; a container without the dataset is ErrDatasetAbsent; structural problems are
// CorruptDataError.  All of these must be distinguished by callers: the first is an expected gap,
// the others are not.
func ReadDataset(ctx context.Context, filename, name string) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancellation(err)
	}
	repr, err := readContainer(filename)
	if err != nil {
		return nil, err
	}
	ds, found := repr.Datasets[name]
	if !found {
		return nil, fmt.Errorf("%w: %s in %s", errs.ErrDatasetAbsent, name, filename)
	}
	if err := ds.validate(filename, name); err != nil {
		return nil, err
	}
	ds.Name = name
	return ds, nil
}

// List returns the dataset names in the container, sorted.
func List(ctx context.Context, filename string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancellation(err)
	}
	repr, err := readContainer(filename)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(repr.Datasets))
	for name := range repr.Datasets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Write creates (or replaces) the container at filename with the given datasets.  The write is
// atomic: data go to a temporary file in the same directory which is renamed into place.
func Write(filename string, datasets []*Dataset, compress bool) error {
	repr := fileRepr{
		Version:  formatVersion,
		Datasets: make(map[string]*Dataset, len(datasets)),
	}
	for _, ds := range datasets {
		if err := ds.validate(filename, ds.Name); err != nil {
			return err
		}
		repr.Datasets[ds.Name] = ds
	}
	encoded, err := encMode.Marshal(&repr)
	if err != nil {
		return err
	}
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(encoded); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		encoded = buf.Bytes()
	}
	if err := os.MkdirAll(path.Dir(filename), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(path.Dir(filename), ".periodfile-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filename)
}
