package importer

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	errInvalidGLTFVersion = errors.New("invalid glTF version: must be 2.0")
	errInvalidGLBMagic    = errors.New("invalid GLB magic number")
	errInvalidGLBVersion  = errors.New("invalid GLB version: must be 2")
	errMissingJSONChunk   = errors.New("GLB file missing JSON chunk")
	errInvalidBufferURI   = errors.New("invalid buffer URI")
	errBufferSizeMismatch = errors.New("buffer size mismatch")
	errSparseAccessor     = errors.New("sparse accessors are not supported")
)

// gltfFile is a parsed glTF document with its buffers loaded.
type gltfFile struct {
	path    string
	baseDir string
	doc     gltfDocument
	bin     []byte
}

// parseFile reads and parses a .gltf or .glb file. GLB is detected by extension or magic.
func parseFile(path string) (*gltfFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	f := &gltfFile{path: path, baseDir: filepath.Dir(path)}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".glb" || (len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == gltfGLBMagic) {
		err = f.parseGLB(data)
	} else {
		err = f.parseGLTF(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return f, nil
}

func (f *gltfFile) parseGLTF(data []byte) error {
	if err := json.Unmarshal(data, &f.doc); err != nil {
		return fmt.Errorf("failed to decode glTF JSON: %w", err)
	}
	if !strings.HasPrefix(f.doc.Asset.Version, "2.") {
		return errInvalidGLTFVersion
	}
	return f.loadBuffers()
}

func (f *gltfFile) parseGLB(data []byte) error {
	r := bytes.NewReader(data)

	var header gltfGLBHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to read GLB header: %w", err)
	}
	if header.Magic != gltfGLBMagic {
		return errInvalidGLBMagic
	}
	if header.Version != gltfGLBVersion {
		return errInvalidGLBVersion
	}

	var jsonChunk []byte
	for r.Len() >= 8 {
		var ch gltfGLBChunkHeader
		if err := binary.Read(r, binary.LittleEndian, &ch); err != nil {
			return fmt.Errorf("failed to read GLB chunk header: %w", err)
		}
		if int(ch.ChunkLength) > r.Len() {
			return fmt.Errorf("%w: GLB chunk of %d bytes with %d left", errBufferSizeMismatch, ch.ChunkLength, r.Len())
		}
		chunk := make([]byte, ch.ChunkLength)
		if _, err := r.Read(chunk); err != nil {
			return fmt.Errorf("failed to read GLB chunk: %w", err)
		}
		switch ch.ChunkType {
		case gltfGLBChunkJSON:
			jsonChunk = chunk
		case gltfGLBChunkBIN:
			f.bin = chunk
		}
	}
	if jsonChunk == nil {
		return errMissingJSONChunk
	}
	return f.parseGLTF(jsonChunk)
}

// loadBuffers resolves every buffer: the GLB binary chunk, a base64 data URI or a file next to the document.
func (f *gltfFile) loadBuffers() error {
	for i := range f.doc.Buffers {
		buf := &f.doc.Buffers[i]
		var (
			data []byte
			err  error
		)
		switch {
		case buf.URI == "" && i == 0 && f.bin != nil:
			data = f.bin
		case strings.HasPrefix(buf.URI, "data:"):
			data, err = decodeDataURI(buf.URI)
		case buf.URI != "":
			data, err = os.ReadFile(filepath.Join(f.baseDir, buf.URI))
		default:
			err = fmt.Errorf("%w: buffer %d has no data", errInvalidBufferURI, i)
		}
		if err != nil {
			return fmt.Errorf("failed to load buffer %d: %w", i, err)
		}
		if len(data) < buf.ByteLength {
			return fmt.Errorf("%w: buffer %d has %d bytes, expected %d", errBufferSizeMismatch, i, len(data), buf.ByteLength)
		}
		buf.Data = data[:buf.ByteLength]
	}
	return nil
}

// decodeDataURI decodes a base64 data URI (data:<mime>;base64,<payload>).
func decodeDataURI(uri string) ([]byte, error) {
	_, payload, ok := strings.Cut(uri, ";base64,")
	if !ok {
		return nil, fmt.Errorf("%w: only base64 data URIs are supported", errInvalidBufferURI)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidBufferURI, err)
	}
	return data, nil
}

// bufferView returns the bytes of a buffer view.
func (f *gltfFile) bufferView(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(f.doc.BufferViews) {
		return nil, fmt.Errorf("buffer view %d out of range", idx)
	}
	bv := f.doc.BufferViews[idx]
	if bv.Buffer < 0 || bv.Buffer >= len(f.doc.Buffers) {
		return nil, fmt.Errorf("buffer view %d references buffer %d out of range", idx, bv.Buffer)
	}
	data := f.doc.Buffers[bv.Buffer].Data
	if bv.ByteOffset+bv.ByteLength > len(data) {
		return nil, fmt.Errorf("%w: buffer view %d exceeds its buffer", errBufferSizeMismatch, idx)
	}
	return data[bv.ByteOffset : bv.ByteOffset+bv.ByteLength], nil
}

func componentSize(componentType int) int {
	switch componentType {
	case gltfByte, gltfUnsignedByte:
		return 1
	case gltfShort, gltfUnsignedShort:
		return 2
	case gltfUnsignedInt, gltfFloat:
		return 4
	}
	return 0
}

func componentCount(accessorType string) int {
	switch accessorType {
	case gltfScalar:
		return 1
	case gltfVec2:
		return 2
	case gltfVec3:
		return 3
	case gltfVec4:
		return 4
	case gltfMat4:
		return 16
	}
	return 0
}

// accessorElements returns the accessor, its element bytes (one slice per element, stride applied) and
// the component count.
func (f *gltfFile) accessorElements(idx int) (gltfAccessor, [][]byte, error) {
	if idx < 0 || idx >= len(f.doc.Accessors) {
		return gltfAccessor{}, nil, fmt.Errorf("accessor %d out of range", idx)
	}
	acc := f.doc.Accessors[idx]
	if acc.Sparse != nil {
		return acc, nil, fmt.Errorf("accessor %d: %w", idx, errSparseAccessor)
	}
	cs, cc := componentSize(acc.ComponentType), componentCount(acc.Type)
	if cs == 0 || cc == 0 {
		return acc, nil, fmt.Errorf("accessor %d: unsupported layout %s/%d", idx, acc.Type, acc.ComponentType)
	}
	elem := cs * cc
	out := make([][]byte, acc.Count)
	if acc.BufferView == nil {
		zero := make([]byte, elem)
		for i := range out {
			out[i] = zero
		}
		return acc, out, nil
	}

	view, err := f.bufferView(*acc.BufferView)
	if err != nil {
		return acc, nil, fmt.Errorf("accessor %d: %w", idx, err)
	}
	stride := elem
	if bs := f.doc.BufferViews[*acc.BufferView].ByteStride; bs != nil && *bs > 0 {
		stride = *bs
	}
	if acc.Count > 0 && acc.ByteOffset+(acc.Count-1)*stride+elem > len(view) {
		return acc, nil, fmt.Errorf("%w: accessor %d exceeds its buffer view", errBufferSizeMismatch, idx)
	}
	for i := range out {
		off := acc.ByteOffset + i*stride
		out[i] = view[off : off+elem]
	}
	return acc, out, nil
}

// readComponent decodes component c of an element, applying normalization for integer types.
func readComponent(elem []byte, componentType int, normalized bool, c int) float32 {
	switch componentType {
	case gltfFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(elem[c*4:]))
	case gltfUnsignedByte:
		v := float32(elem[c])
		if normalized {
			return v / 255
		}
		return v
	case gltfByte:
		v := float32(int8(elem[c]))
		if normalized {
			return max(v/127, -1)
		}
		return v
	case gltfUnsignedShort:
		v := float32(binary.LittleEndian.Uint16(elem[c*2:]))
		if normalized {
			return v / 65535
		}
		return v
	case gltfShort:
		v := float32(int16(binary.LittleEndian.Uint16(elem[c*2:])))
		if normalized {
			return max(v/32767, -1)
		}
		return v
	case gltfUnsignedInt:
		return float32(binary.LittleEndian.Uint32(elem[c*4:]))
	}
	return 0
}

// readFloats reads an accessor into a flat float slice and returns its component count. Integer
// accessors are converted, normalized when the accessor says so.
//
// Parameters:
//   - idx: the accessor index
//   - want: accepted component counts; none accepts any
//
// Returns:
//   - []float32: count*components values
//   - int: the component count
//   - error: an error if the accessor is invalid or has an unexpected type
func (f *gltfFile) readFloats(idx int, want ...int) ([]float32, int, error) {
	acc, elems, err := f.accessorElements(idx)
	if err != nil {
		return nil, 0, err
	}
	n := componentCount(acc.Type)
	if len(want) > 0 && !slices.Contains(want, n) {
		return nil, 0, fmt.Errorf("accessor %d: unexpected type %s", idx, acc.Type)
	}
	out := make([]float32, 0, len(elems)*n)
	for _, e := range elems {
		for c := range n {
			out = append(out, readComponent(e, acc.ComponentType, acc.Normalized, c))
		}
	}
	return out, n, nil
}

// readUints reads an integer accessor (indices, joints) into a flat slice.
func (f *gltfFile) readUints(idx int) ([]uint32, int, error) {
	acc, elems, err := f.accessorElements(idx)
	if err != nil {
		return nil, 0, err
	}
	switch acc.ComponentType {
	case gltfUnsignedByte, gltfUnsignedShort, gltfUnsignedInt:
	default:
		return nil, 0, fmt.Errorf("accessor %d: component type %d is not an unsigned integer", idx, acc.ComponentType)
	}
	n := componentCount(acc.Type)
	out := make([]uint32, 0, len(elems)*n)
	for _, e := range elems {
		for c := range n {
			switch acc.ComponentType {
			case gltfUnsignedByte:
				out = append(out, uint32(e[c]))
			case gltfUnsignedShort:
				out = append(out, uint32(binary.LittleEndian.Uint16(e[c*2:])))
			default:
				out = append(out, binary.LittleEndian.Uint32(e[c*4:]))
			}
		}
	}
	return out, n, nil
}

// readMatrices reads a MAT4 accessor.
func (f *gltfFile) readMatrices(idx int) ([][16]float32, error) {
	flat, _, err := f.readFloats(idx, 16)
	if err != nil {
		return nil, err
	}
	out := make([][16]float32, len(flat)/16)
	for i := range out {
		copy(out[i][:], flat[i*16:])
	}
	return out, nil
}
