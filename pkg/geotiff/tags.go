package geotiff

// Baseline and extension TIFF tags.
const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPlanarConfiguration       = 284
	tagPredictor                 = 317
	tagTileWidth                 = 322
	tagTileLength                = 323
	tagTileOffsets               = 324
	tagTileByteCounts            = 325
	tagSampleFormat              = 339
)

// GeoTIFF and GDAL private tags.
const (
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
	tagGDALMetadata        = 42112
	tagGDALNoData          = 42113
)

// Field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

var fieldTypeSize = map[uint16]uint64{
	dtByte:      1,
	dtASCII:     1,
	dtShort:     2,
	dtLong:      4,
	dtRational:  8,
	dtSByte:     1,
	dtUndefined: 1,
	dtSShort:    2,
	dtSLong:     4,
	dtSRational: 8,
	dtFloat:     4,
	dtDouble:    8,
	dtLong8:     8,
	dtSLong8:    8,
	dtIFD8:      8,
}

const (
	photometricMinIsWhite = 0
	photometricMinIsBlack = 1
	photometricPalette    = 3
)

const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
	sampleFormatVoid  = 4
)

// GeoKey identifiers used to derive a CRS string.
const (
	geoKeyModelType          = 1024
	geoKeyRasterType         = 1025
	geoKeyGeographicType     = 2048
	geoKeyProjectedCSType    = 3072
	geoKeyUserDefined        = 32767
	modelTypeProjected       = 1
	modelTypeGeographic      = 2
	rasterPixelIsArea        = 1
	geoKeyDirectoryHeaderLen = 4
)
