package vdex

import (
	"fmt"
	"iter"

	"github.com/blacktop/vdex/internal/buffer"
	"github.com/blacktop/vdex/pkg/dex"
)

// quickeningStream hands out the length prefixed frames of the quickening info
// section, one per method with code, in traversal order.
type quickeningStream struct {
	r      *buffer.Reader
	frames int
}

func newQuickeningStream(blob []byte) *quickeningStream {
	return &quickeningStream{r: buffer.NewReader(blob)}
}

// Next returns the next frame
func (q *quickeningStream) Next() ([]byte, error) {
	size, err := q.r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d length: %v", ErrBlobMisalignment, q.frames, err)
	}
	frame, err := q.r.Bytes(int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d of %d bytes: %v", ErrBlobMisalignment, q.frames, size, err)
	}
	q.frames++
	return frame, nil
}

// Finish checks that every byte of the section was handed out
func (q *quickeningStream) Finish() error {
	if !q.r.Done() {
		return fmt.Errorf("%w: %d byte(s) left after %d frames", ErrBlobMisalignment, q.r.Remaining(), q.frames)
	}
	return nil
}

// codeMethod is a method with a code item, as visited by the extraction traversal
type codeMethod struct {
	ClassDefIdx uint32
	Kind        MethodKind // DirectMethod or VirtualMethod
	dex.Method
	Code *dex.CodeItem
}

// codeMethods yields every method with code in df: per class def, the direct methods
// then the virtual methods, in class data order. This is the order of the frames in
// the quickening info section.
func codeMethods(df *dex.File) iter.Seq2[codeMethod, error] {
	return func(yield func(codeMethod, error) bool) {
		for i := range df.ClassDefsSize {
			def, err := df.ClassDef(i)
			if err != nil {
				yield(codeMethod{}, err)
				return
			}
			cd, err := df.ClassData(def)
			if err != nil {
				yield(codeMethod{}, fmt.Errorf("class def %d: %w", i, err))
				return
			}
			if cd == nil {
				continue
			}
			for _, list := range []struct {
				kind    MethodKind
				methods []dex.Method
			}{
				{DirectMethod, cd.DirectMethods},
				{VirtualMethod, cd.VirtualMethods},
			} {
				for _, m := range list.methods {
					if m.CodeOff == 0 {
						continue
					}
					code, err := df.CodeItem(m.CodeOff)
					if err != nil {
						yield(codeMethod{}, fmt.Errorf("class def %d method %d: %w", i, m.MethodIdx, err))
						return
					}
					if !yield(codeMethod{ClassDefIdx: i, Kind: list.kind, Method: m, Code: code}, nil) {
						return
					}
				}
			}
		}
	}
}
