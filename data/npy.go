package data

import (
	"encoding/binary"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/joangog/radioSSL/tensor"
)

var npyMagic = []byte("\x93NUMPY")

var npyHeaderRe = regexp.MustCompile(
	`'descr':\s*'([^']+)',\s*'fortran_order':\s*(True|False),\s*'shape':\s*\(([^)]*)\)`)

// ReadNpy loads a little-endian float32 or int32 NumPy array file written
// by the preprocessing scripts.
func ReadNpy(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	magic := make([]byte, 8)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, errors.Wrapf(err, "reading magic of %s", path)
	}
	if string(magic[:6]) != string(npyMagic) {
		return nil, errors.Errorf("%s is not a npy file", path)
	}
	major := magic[6]

	var headerLen int
	if major >= 2 {
		var n uint32
		if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrapf(err, "reading header length of %s", path)
		}
		headerLen = int(n)
	} else {
		var n uint16
		if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrapf(err, "reading header length of %s", path)
		}
		headerLen = int(n)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, errors.Wrapf(err, "reading header of %s", path)
	}
	m := npyHeaderRe.FindStringSubmatch(string(header))
	if m == nil {
		return nil, errors.Errorf("unparseable npy header in %s", path)
	}
	descr, fortran, shapeStr := m[1], m[2], m[3]
	if fortran == "True" {
		return nil, errors.Errorf("%s uses fortran order, expected C order", path)
	}

	shape, err := parseNpyShape(shapeStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing shape of %s", path)
	}
	count := 1
	for _, s := range shape {
		count *= s
	}

	switch descr {
	case "<f4":
		values := make([]float32, count)
		if err := binary.Read(f, binary.LittleEndian, values); err != nil {
			return nil, errors.Wrapf(err, "reading float32 data of %s", path)
		}
		return tensor.NewTensor(shape, tensor.Float32, values)
	case "<i4":
		values := make([]int32, count)
		if err := binary.Read(f, binary.LittleEndian, values); err != nil {
			return nil, errors.Wrapf(err, "reading int32 data of %s", path)
		}
		return tensor.NewTensor(shape, tensor.Int32, values)
	}
	return nil, errors.Errorf("unsupported npy dtype %q in %s", descr, path)
}

func parseNpyShape(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	shape := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		dim, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		shape = append(shape, dim)
	}
	if len(shape) == 0 {
		return nil, errors.New("scalar npy arrays are not supported")
	}
	return shape, nil
}
