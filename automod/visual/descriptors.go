package visual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var descriptorMagic = []byte("AWBD")

const descriptorVersion byte = 1

var ErrBadDescriptors = errors.New("invalid descriptor blob")

// A set of fixed-dimension local feature descriptors for one image, stored row-major.
type Descriptors struct {
	Dims int
	Data []float32
}

func NewDescriptors(rows [][]float32) (*Descriptors, error) {
	d := &Descriptors{}
	for i, r := range rows {
		if i == 0 {
			d.Dims = len(r)
		} else if len(r) != d.Dims {
			return nil, fmt.Errorf("descriptor row %d has %d dims, expected %d", i, len(r), d.Dims)
		}
		d.Data = append(d.Data, r...)
	}
	return d, nil
}

func (d *Descriptors) Len() int {
	if d == nil || d.Dims == 0 {
		return 0
	}
	return len(d.Data) / d.Dims
}

func (d *Descriptors) Row(i int) []float32 {
	return d.Data[i*d.Dims : (i+1)*d.Dims]
}

// Blob layout: "AWBD", version byte, uint32 row count, uint32 dims, then count*dims float32 values; all little-endian.
func EncodeDescriptors(d *Descriptors) []byte {
	n := d.Len()
	buf := make([]byte, 0, len(descriptorMagic)+1+8+4*len(d.Data))
	buf = append(buf, descriptorMagic...)
	buf = append(buf, descriptorVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(d.Dims))
	for _, v := range d.Data[:n*d.Dims] {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

func DecodeDescriptors(blob []byte) (*Descriptors, error) {
	if len(blob) < len(descriptorMagic)+1+8 || !bytes.Equal(blob[:4], descriptorMagic) {
		return nil, ErrBadDescriptors
	}
	if blob[4] != descriptorVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadDescriptors, blob[4])
	}
	count := int(binary.LittleEndian.Uint32(blob[5:9]))
	dims := int(binary.LittleEndian.Uint32(blob[9:13]))
	body := blob[13:]
	if count*dims*4 != len(body) {
		return nil, fmt.Errorf("%w: expected %d values, have %d bytes", ErrBadDescriptors, count*dims, len(body))
	}
	d := &Descriptors{Dims: dims, Data: make([]float32, count*dims)}
	for i := range d.Data {
		d.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return d, nil
}
