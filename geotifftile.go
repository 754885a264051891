package dem

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
	"gonum.org/v1/gonum/mat"
)

// TIFF compression schemes.
const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionAdobeDeflate = 8
	compressionDeflate      = 32946
)

// TIFF predictors.
const (
	predictorNone       = 1
	predictorHorizontal = 2
)

// TIFF sample formats.
const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth          uint16    `tiff:"field,tag=256"`
	ImageLength         uint16    `tiff:"field,tag=257"`
	BitsPerSample       uint16    `tiff:"field,tag=258"`
	Compression         uint16    `tiff:"field,tag=259"`
	StripOffsets        []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel     uint16    `tiff:"field,tag=277"`
	RowsPerStrip        uint16    `tiff:"field,tag=278"`
	StripByteCounts     []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration uint16    `tiff:"field,tag=284"`
	Predictor           uint16    `tiff:"field,tag=317"`
	TileWidth           uint16    `tiff:"field,tag=322"`
	TileLength          uint16    `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        uint16    `tiff:"field,tag=339"`
	GeoKeyDirectoryTag  []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag  []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag   string    `tiff:"field,tag=34737"`
	GDALNoData          string    `tiff:"field,tag=42113"`
}

// A geoTIFFLayout describes how the samples of a GeoTIFF are laid out in
// blocks, which are either strips or tiles.
type geoTIFFLayout struct {
	order          binary.ByteOrder
	width          int
	length         int
	blockWidth     int
	blockLength    int
	blocksAcross   int
	offsets        []uint64
	byteCounts     []uint64
	bytesPerSample int
	sampleFormat   int
	compression    int
	predictor      int
}

// DecodeGeoTIFF decodes a single-band GeoTIFF in TileCRS into a grid of
// elevations. Samples equal to the GDAL nodata value are NaN.
func DecodeGeoTIFF(data []byte) (*mat.Dense, error) {
	tiffTIFF, err := tiff.Parse(bytes.NewReader(data), tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, fmt.Errorf("decode geotiff: %w", err)
	}
	if len(tiffTIFF.IFDs()) < 1 {
		return nil, errors.New("decode geotiff: no IFDs")
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, fmt.Errorf("decode geotiff: %w", err)
	}

	if len(ifd.GeoKeyDirectoryTag) != 0 {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return nil, fmt.Errorf("decode geotiff: %w", err)
		}
		if epsg, ok := geoKeys.EPSG(); ok && epsg != 3857 {
			return nil, fmt.Errorf("decode geotiff: EPSG:%d: %w", epsg, errors.ErrUnsupported)
		}
	}

	layout, err := newGeoTIFFLayout(data, &ifd)
	if err != nil {
		return nil, fmt.Errorf("decode geotiff: %w", err)
	}

	noData := math.NaN()
	if s := strings.TrimRight(strings.TrimSpace(ifd.GDALNoData), "\x00"); s != "" {
		if noData, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, fmt.Errorf("decode geotiff: nodata %q: %w", s, err)
		}
	}

	samples := make([]float64, layout.width*layout.length)
	for blockIndex := range layout.offsets {
		blockData, err := layout.readBlock(data, blockIndex)
		if err != nil {
			return nil, fmt.Errorf("decode geotiff: block %d: %w", blockIndex, err)
		}
		layout.placeBlock(samples, blockIndex, blockData, noData)
	}
	return mat.NewDense(layout.length, layout.width, samples), nil
}

// newGeoTIFFLayout returns the layout of the GeoTIFF described by ifd.
func newGeoTIFFLayout(data []byte, ifd *geoTIFFIFD) (*geoTIFFLayout, error) {
	l := &geoTIFFLayout{
		width:        int(ifd.ImageWidth),
		length:       int(ifd.ImageLength),
		compression:  int(ifd.Compression),
		predictor:    int(ifd.Predictor),
		sampleFormat: int(ifd.SampleFormat),
	}
	if bytes.HasPrefix(data, []byte("MM")) {
		l.order = binary.BigEndian
	} else {
		l.order = binary.LittleEndian
	}

	if l.width == 0 || l.length == 0 {
		return nil, errors.New("empty image")
	}
	if ifd.SamplesPerPixel > 1 || ifd.PlanarConfiguration > 1 {
		return nil, fmt.Errorf("%d samples per pixel: %w", ifd.SamplesPerPixel, errors.ErrUnsupported)
	}
	if l.sampleFormat == 0 {
		l.sampleFormat = sampleFormatUint
	}
	switch {
	case ifd.BitsPerSample == 16 && (l.sampleFormat == sampleFormatUint || l.sampleFormat == sampleFormatInt):
	case ifd.BitsPerSample == 32 && (l.sampleFormat == sampleFormatInt || l.sampleFormat == sampleFormatFloat):
	default:
		return nil, fmt.Errorf("%d-bit sample format %d: %w", ifd.BitsPerSample, l.sampleFormat, errors.ErrUnsupported)
	}
	l.bytesPerSample = int(ifd.BitsPerSample) / 8
	switch l.compression {
	case 0:
		l.compression = compressionNone
	case compressionNone, compressionLZW, compressionAdobeDeflate, compressionDeflate:
	default:
		return nil, fmt.Errorf("compression %d: %w", l.compression, errors.ErrUnsupported)
	}
	switch l.predictor {
	case 0:
		l.predictor = predictorNone
	case predictorNone, predictorHorizontal:
	default:
		return nil, fmt.Errorf("predictor %d: %w", l.predictor, errors.ErrUnsupported)
	}

	if ifd.TileWidth != 0 && ifd.TileLength != 0 {
		l.blockWidth = int(ifd.TileWidth)
		l.blockLength = int(ifd.TileLength)
		l.offsets = ifd.TileOffsets
		l.byteCounts = ifd.TileByteCounts
	} else {
		l.blockWidth = l.width
		l.blockLength = int(ifd.RowsPerStrip)
		if l.blockLength == 0 || l.blockLength > l.length {
			l.blockLength = l.length
		}
		l.offsets = ifd.StripOffsets
		l.byteCounts = ifd.StripByteCounts
	}
	l.blocksAcross = (l.width + l.blockWidth - 1) / l.blockWidth
	blocksDown := (l.length + l.blockLength - 1) / l.blockLength
	if blocksPerImage := l.blocksAcross * blocksDown; len(l.offsets) != blocksPerImage || len(l.byteCounts) != blocksPerImage {
		return nil, errors.New("incorrect number of block byte counts or offsets")
	}
	return l, nil
}

// readBlock returns the uncompressed data of the block at blockIndex.
func (l *geoTIFFLayout) readBlock(data []byte, blockIndex int) ([]byte, error) {
	offset, byteCount := l.offsets[blockIndex], l.byteCounts[blockIndex]
	if offset+byteCount > uint64(len(data)) {
		return nil, io.ErrUnexpectedEOF
	}
	compressedData := data[offset : offset+byteCount]

	blockByteCount := l.blockWidth * l.blockLength * l.bytesPerSample
	var r io.Reader
	switch l.compression {
	case compressionNone:
		r = bytes.NewReader(compressedData)
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		r = lzwReader
	case compressionAdobeDeflate, compressionDeflate:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		r = zlibReader
	}

	// The final strip of an image may be shorter than the others.
	blockData := make([]byte, blockByteCount)
	n, err := io.ReadFull(r, blockData)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF) && n%(l.blockWidth*l.bytesPerSample) == 0:
		blockData = blockData[:n]
	case err != nil:
		return nil, err
	}

	if l.predictor == predictorHorizontal {
		l.undoHorizontalPredictor(blockData)
	}
	return blockData, nil
}

// undoHorizontalPredictor reverses horizontal differencing in blockData.
func (l *geoTIFFLayout) undoHorizontalPredictor(blockData []byte) {
	rowBytes := l.blockWidth * l.bytesPerSample
	for row := 0; row+rowBytes <= len(blockData); row += rowBytes {
		rowData := blockData[row : row+rowBytes]
		switch l.bytesPerSample {
		case 2:
			prev := l.order.Uint16(rowData)
			for i := 2; i < rowBytes; i += 2 {
				prev += l.order.Uint16(rowData[i:])
				l.order.PutUint16(rowData[i:], prev)
			}
		case 4:
			prev := l.order.Uint32(rowData)
			for i := 4; i < rowBytes; i += 4 {
				prev += l.order.Uint32(rowData[i:])
				l.order.PutUint32(rowData[i:], prev)
			}
		}
	}
}

// placeBlock decodes the samples in blockData and places them in samples.
func (l *geoTIFFLayout) placeBlock(samples []float64, blockIndex int, blockData []byte, noData float64) {
	x0 := (blockIndex % l.blocksAcross) * l.blockWidth
	y0 := (blockIndex / l.blocksAcross) * l.blockLength
	blockRows := len(blockData) / (l.blockWidth * l.bytesPerSample)
	for by := range blockRows {
		y := y0 + by
		if y >= l.length {
			break
		}
		for bx := range l.blockWidth {
			x := x0 + bx
			if x >= l.width {
				break
			}
			sample := l.decodeSample(blockData[(by*l.blockWidth+bx)*l.bytesPerSample:])
			if sample == noData {
				sample = math.NaN()
			}
			samples[y*l.width+x] = sample
		}
	}
}

// decodeSample decodes the sample at the start of b.
func (l *geoTIFFLayout) decodeSample(b []byte) float64 {
	switch {
	case l.bytesPerSample == 2 && l.sampleFormat == sampleFormatInt:
		return float64(int16(l.order.Uint16(b)))
	case l.bytesPerSample == 2:
		return float64(l.order.Uint16(b))
	case l.sampleFormat == sampleFormatFloat:
		return float64(math.Float32frombits(l.order.Uint32(b)))
	default:
		return float64(int32(l.order.Uint32(b)))
	}
}
