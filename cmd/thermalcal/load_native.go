//go:build !purego && !js

package main

import (
	"fmt"

	"gocv.io/x/gocv"

	"thermalcal/pkg/geotiff"
	tc "thermalcal/pkg/thermalcal"
)

func loadImageBand(path string) (*tc.Band, error) {
	// Any-depth grayscale keeps 16-bit radiometric PNGs at full precision.
	src := gocv.IMRead(path, gocv.IMReadAnyDepth)
	if src.Empty() {
		return nil, fmt.Errorf("%w: could not load image: %s", tc.ErrInvalidInput, path)
	}
	defer src.Close()

	w, h := src.Cols(), src.Rows()
	dtype := geotiff.Uint8
	switch src.Type() {
	case gocv.MatTypeCV16U:
		dtype = geotiff.Uint16
	case gocv.MatTypeCV32F:
		dtype = geotiff.Float32
	}

	floatMat := gocv.NewMat()
	defer floatMat.Close()
	src.ConvertTo(&floatMat, gocv.MatTypeCV32F)

	data, err := floatMat.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading image pixels: %w", err)
	}
	return tc.NewBand(data[:w*h], plainProfile(w, h, dtype))
}
