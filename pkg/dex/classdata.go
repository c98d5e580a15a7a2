package dex

import (
	"fmt"
	"iter"

	"github.com/blacktop/vdex/internal/buffer"
)

// ClassDataHeader holds the four list sizes at the start of a class_data_item
type ClassDataHeader struct {
	StaticFieldsSize   uint32
	InstanceFieldsSize uint32
	DirectMethodsSize  uint32
	VirtualMethodsSize uint32
}

// Field is an encoded_field with its index already un-diffed
type Field struct {
	FieldIdx    uint32
	AccessFlags uint32
}

// Method is an encoded_method with its index already un-diffed
type Method struct {
	MethodIdx   uint32
	AccessFlags uint32
	CodeOff     uint32
}

// ClassDataReader reads a class_data_item in on-disk order.
// Callers read the static fields, the instance fields, then the direct and virtual methods.
type ClassDataReader struct {
	ClassDataHeader
	r *buffer.Reader
}

// NewClassDataReader reads the class_data_item header at off
func (f *File) NewClassDataReader(off uint32) (*ClassDataReader, error) {
	if off == 0 || off >= uint32(len(f.data)) {
		return nil, fmt.Errorf("%w: class data offset %#x", ErrOutOfRange, off)
	}
	cr := &ClassDataReader{r: buffer.NewReaderAt(f.data, int(off), len(f.data))}
	for _, v := range []*uint32{
		&cr.StaticFieldsSize,
		&cr.InstanceFieldsSize,
		&cr.DirectMethodsSize,
		&cr.VirtualMethodsSize,
	} {
		val, err := cr.r.ULEB128()
		if err != nil {
			return nil, fmt.Errorf("failed to read class data header at %#x: %w", off, err)
		}
		*v = val
	}
	return cr, nil
}

// ReadFields reads the next list of n encoded fields
func (c *ClassDataReader) ReadFields(n uint32) ([]Field, error) {
	// an encoded_field is at least two bytes
	if uint64(n)*2 > uint64(c.r.Remaining()) {
		return nil, fmt.Errorf("%w: %d fields with %d byte(s) left", ErrTruncated, n, c.r.Remaining())
	}
	fields := make([]Field, 0, n)
	var idx uint32
	for i := uint32(0); i < n; i++ {
		diff, err := c.r.ULEB128()
		if err != nil {
			return nil, fmt.Errorf("failed to read field %d idx: %w", i, err)
		}
		flags, err := c.r.ULEB128()
		if err != nil {
			return nil, fmt.Errorf("failed to read field %d access flags: %w", i, err)
		}
		idx += diff
		fields = append(fields, Field{FieldIdx: idx, AccessFlags: flags})
	}
	return fields, nil
}

// Methods yields the next n encoded methods. Iteration stops after the first error.
func (c *ClassDataReader) Methods(n uint32) iter.Seq2[Method, error] {
	return func(yield func(Method, error) bool) {
		var idx uint32
		for i := uint32(0); i < n; i++ {
			var vals [3]uint32
			for j := range vals {
				v, err := c.r.ULEB128()
				if err != nil {
					yield(Method{}, fmt.Errorf("failed to read method %d: %w", i, err))
					return
				}
				vals[j] = v
			}
			idx += vals[0]
			if !yield(Method{MethodIdx: idx, AccessFlags: vals[1], CodeOff: vals[2]}, nil) {
				return
			}
		}
	}
}

// ClassData is a fully decoded class_data_item
type ClassData struct {
	ClassDataHeader
	StaticFields   []Field
	InstanceFields []Field
	DirectMethods  []Method
	VirtualMethods []Method
}

// ClassData decodes the class data of def, returning nil when the class has none
func (f *File) ClassData(def ClassDef) (*ClassData, error) {
	if def.ClassDataOff == 0 {
		return nil, nil
	}
	cr, err := f.NewClassDataReader(def.ClassDataOff)
	if err != nil {
		return nil, err
	}
	cd := &ClassData{ClassDataHeader: cr.ClassDataHeader}
	if cd.StaticFields, err = cr.ReadFields(cr.StaticFieldsSize); err != nil {
		return nil, fmt.Errorf("static fields: %w", err)
	}
	if cd.InstanceFields, err = cr.ReadFields(cr.InstanceFieldsSize); err != nil {
		return nil, fmt.Errorf("instance fields: %w", err)
	}
	for m, err := range cr.Methods(cr.DirectMethodsSize) {
		if err != nil {
			return nil, fmt.Errorf("direct methods: %w", err)
		}
		cd.DirectMethods = append(cd.DirectMethods, m)
	}
	for m, err := range cr.Methods(cr.VirtualMethodsSize) {
		if err != nil {
			return nil, fmt.Errorf("virtual methods: %w", err)
		}
		cd.VirtualMethods = append(cd.VirtualMethods, m)
	}
	return cd, nil
}
