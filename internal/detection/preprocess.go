package detection

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

// Blob is an NCHW float32 tensor with batch size 1
type Blob struct {
	Shape [4]int
	Data  []float32
}

// BlobParams mirror the usual blob-from-image knobs
type BlobParams struct {
	Size   int     // Square network input size
	Scale  float64 // Multiplier applied after mean subtraction
	Mean   float64 // Subtracted from every channel
	SwapRB bool    // true: R,G,B planes; false: B,G,R planes (camera native order)
}

// SSDBlobParams returns the MobileNet-SSD preprocessing
func SSDBlobParams() BlobParams {
	return BlobParams{Size: SSDInputSize, Scale: SSDScale, Mean: SSDMean}
}

// YOLOBlobParams returns the YOLO preprocessing
func YOLOBlobParams() BlobParams {
	return BlobParams{Size: YOLOInputSize, Scale: YOLOScale, SwapRB: true}
}

// NewBlob resizes img to the network input with bilinear filtering and
// normalizes every channel as (pixel - mean) * scale
func NewBlob(img image.Image, p BlobParams) *Blob {
	size := p.Size
	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	blob := &Blob{
		Shape: [4]int{1, 3, size, size},
		Data:  make([]float32, 3*plane),
	}

	// plane order for the first and last channel
	first, last := 2, 0 // B then R
	if p.SwapRB {
		first, last = 0, 2
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := resized.PixOffset(x, y)
			px := resized.Pix[off : off+3 : off+3]
			i := y*size + x
			blob.Data[i] = float32((float64(px[first]) - p.Mean) * p.Scale)
			blob.Data[plane+i] = float32((float64(px[1]) - p.Mean) * p.Scale)
			blob.Data[2*plane+i] = float32((float64(px[last]) - p.Mean) * p.Scale)
		}
	}
	return blob
}

// At returns the value at channel c, row y, column x
func (b *Blob) At(c, y, x int) float32 {
	h, w := b.Shape[2], b.Shape[3]
	return b.Data[c*h*w+y*w+x]
}

// Bytes serializes the tensor as little-endian float32
func (b *Blob) Bytes() []byte {
	buf := make([]byte, 4*len(b.Data))
	for i, v := range b.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// ShapeHeader formats the shape as "1,3,H,W"
func (b *Blob) ShapeHeader() string {
	parts := make([]string, len(b.Shape))
	for i, d := range b.Shape {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// ParseBlob decodes a tensor serialized by Bytes
func ParseBlob(shape string, data []byte) (*Blob, error) {
	parts := strings.Split(shape, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("blob shape %q: want 4 dimensions", shape)
	}
	blob := &Blob{}
	n := 1
	for i, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("blob shape %q: invalid dimension %q", shape, p)
		}
		blob.Shape[i] = d
		n *= d
	}
	if len(data) != 4*n {
		return nil, fmt.Errorf("blob data: got %d bytes, want %d", len(data), 4*n)
	}
	blob.Data = make([]float32, n)
	for i := range blob.Data {
		blob.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return blob, nil
}

// Grayscale converts img to 8-bit luma using the BT.601 weights
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
