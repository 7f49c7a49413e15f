package shmduplex

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Gradient dimension defaults and limits for the sample processor.
const (
	defaultGradientWidth  = 10
	defaultGradientHeight = 10
	maxGradientDim        = 1024
)

// GradientRequest is the optional msgpack-encoded request the Creator may
// post to the sample processor to choose the rendered image dimensions.
type GradientRequest struct {
	Width  int `msgpack:"width"`
	Height int `msgpack:"height"`
}

// GradientProcessor is the placeholder content processor: it renders a
// horizontal gray gradient as raw RGBA bytes and returns them as the
// response payload. If the inbound payload decodes as a msgpack
// GradientRequest its dimensions are used; otherwise the payload is ignored
// and the default 10x10 image is produced. It exists so the protocol engine
// has something real to exchange; production users inject their own
// Processor.
func GradientProcessor(input []byte) ([]byte, error) {
	req := GradientRequest{Width: defaultGradientWidth, Height: defaultGradientHeight}
	if len(input) > 0 {
		if err := msgpack.Unmarshal(input, &req); err != nil {
			log.Debugf("Inbound payload is not a gradient request (%v); using default dimensions", err)
			req = GradientRequest{Width: defaultGradientWidth, Height: defaultGradientHeight}
		}
	}
	return renderGradientRGBA(req.Width, req.Height)
}

// renderGradientRGBA produces width*height RGBA pixels whose red, green and
// blue channels ramp from 0 to 255 left to right, alpha fully opaque.
func renderGradientRGBA(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid gradient dimensions %dx%d", width, height)
	}
	if width > maxGradientDim || height > maxGradientDim {
		return nil, errors.Errorf("gradient dimensions %dx%d exceed limit %d", width, height, maxGradientDim)
	}

	out := make([]byte, width*height*4)
	for x := 0; x < width; x++ {
		v := byte(255)
		if width > 1 {
			v = byte(x * 255 / (width - 1))
		}
		for y := 0; y < height; y++ {
			i := (y*width + x) * 4
			out[i] = v
			out[i+1] = v
			out[i+2] = v
			out[i+3] = 0xff
		}
	}
	return out, nil
}
