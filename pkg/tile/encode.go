package tile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"math"

	"golang.org/x/image/tiff"
)

const metresPerInch = 0.0254

// Encode writes img in the given format with its pixel density set to ppi
func Encode(img image.Image, format Format, ppi float64) ([]byte, error) {
	switch format {
	case FormatTIFF:
		return EncodeTIFF(img, ppi)
	default:
		return EncodePNG(img, ppi)
	}
}

// EncodePNG encodes img as PNG with a pHYs chunk for ppi.
//
// The encoder writes only IHDR, IDAT and IEND (plus PLTE/tRNS for paletted
// images), so ancillary chunks of the source never reach the output.
func EncodePNG(img image.Image, ppi float64) ([]byte, error) {
	var output bytes.Buffer
	if err := png.Encode(&output, img); err != nil {
		return nil, err
	}

	data := output.Bytes()
	// signature (8) + IHDR length, type, 13 bytes of data and CRC
	const ihdrEnd = 8 + 4 + 4 + 13 + 4
	if len(data) < ihdrEnd || string(data[12:16]) != "IHDR" {
		return nil, fmt.Errorf("unexpected PNG layout")
	}

	ppm := uint32(math.Round(ppi / metresPerInch))
	payload := make([]byte, 9)
	binary.BigEndian.PutUint32(payload[0:4], ppm)
	binary.BigEndian.PutUint32(payload[4:8], ppm)
	payload[8] = 1 // unit is the metre

	var result bytes.Buffer
	result.Grow(len(data) + 21)
	result.Write(data[:ihdrEnd])
	writePNGChunk(&result, "pHYs", payload)
	result.Write(data[ihdrEnd:])

	return result.Bytes(), nil
}

func writePNGChunk(buf *bytes.Buffer, chunkType string, payload []byte) {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	copy(header[4:], chunkType)
	buf.Write(header[:])
	buf.Write(payload)

	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(payload)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])
}

// TIFF tags holding the resolution
const (
	tiffTagXResolution = 282
	tiffTagYResolution = 283
	tiffTypeRational   = 5
)

// EncodeTIFF encodes img as TIFF with XResolution/YResolution set to ppi.
//
// x/image/tiff always writes 72x72 dpi, so the two rational values are
// patched after encoding.
func EncodeTIFF(img image.Image, ppi float64) ([]byte, error) {
	var output bytes.Buffer
	if err := tiff.Encode(&output, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return nil, err
	}

	data := output.Bytes()
	if len(data) < 8 || string(data[:4]) != "II*\x00" {
		return nil, fmt.Errorf("unexpected TIFF header")
	}
	order := binary.LittleEndian

	ifd := int(order.Uint32(data[4:8]))
	if ifd+2 > len(data) {
		return nil, fmt.Errorf("TIFF directory out of range")
	}
	entries := int(order.Uint16(data[ifd : ifd+2]))

	numerator := uint32(math.Round(ppi * 100))
	patched := 0
	for i := 0; i < entries; i++ {
		entry := ifd + 2 + i*12
		if entry+12 > len(data) {
			return nil, fmt.Errorf("TIFF directory entry out of range")
		}
		tag := order.Uint16(data[entry : entry+2])
		if tag != tiffTagXResolution && tag != tiffTagYResolution {
			continue
		}
		if order.Uint16(data[entry+2:entry+4]) != tiffTypeRational {
			return nil, fmt.Errorf("TIFF resolution tag %d is not rational", tag)
		}
		offset := int(order.Uint32(data[entry+8 : entry+12]))
		if offset+8 > len(data) {
			return nil, fmt.Errorf("TIFF resolution value out of range")
		}
		order.PutUint32(data[offset:offset+4], numerator)
		order.PutUint32(data[offset+4:offset+8], 100)
		patched++
	}
	if patched != 2 {
		return nil, fmt.Errorf("TIFF resolution tags not found")
	}

	return data, nil
}
