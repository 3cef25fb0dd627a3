package modules

import (
	"gocv.io/x/gocv"
)

// stubRunner satisfies inference.Runner with a canned function, standing in
// for a real session in tests.
type stubRunner struct {
	fn func(shape []int64, data []float32) ([][]float32, error)
}

func (s *stubRunner) Run(shape []int64, data []float32) ([][]float32, error) {
	return s.fn(shape, data)
}

// matFromFunc builds an RGB Mat with per-pixel values from f.
func matFromFunc(w, h int, f func(x, y int) [3]byte) gocv.Mat {
	data := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := f(x, y)
			idx := (y*w + x) * 3
			data[idx] = px[0]
			data[idx+1] = px[1]
			data[idx+2] = px[2]
		}
	}

	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
	if err != nil {
		panic(err)
	}
	return m
}

// uniformMat builds a single-color RGB Mat.
func uniformMat(w, h int, r, g, b byte) gocv.Mat {
	return matFromFunc(w, h, func(int, int) [3]byte {
		return [3]byte{r, g, b}
	})
}

// speckledMat is a flat gray field with sparse white pixels: sharp enough for
// the quality gate and heavy-tailed enough for the albedo gate.
func speckledMat(w, h int) gocv.Mat {
	return matFromFunc(w, h, func(x, y int) [3]byte {
		if (y*w+x)%997 == 0 {
			return [3]byte{255, 255, 255}
		}
		return [3]byte{100, 100, 100}
	})
}
