package cleaner

import "math"

// biquad is a direct form I second-order IIR section with coefficients from
// the RBJ audio EQ cookbook, normalised so a0 == 1.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (f *biquad) process(x []float64) {
	for i, v := range x {
		y := f.b0*v + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
		f.x2, f.x1 = f.x1, v
		f.y2, f.y1 = f.y1, y
		x[i] = y
	}
}

func newBiquad(b0, b1, b2, a0, a1, a2 float64) *biquad {
	return &biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

const butterworthQ = math.Sqrt2 / 2

func highPass(fc, rate float64) *biquad {
	w := 2 * math.Pi * fc / rate
	cw, alpha := math.Cos(w), math.Sin(w)/(2*butterworthQ)
	return newBiquad((1+cw)/2, -(1 + cw), (1+cw)/2, 1+alpha, -2*cw, 1-alpha)
}

func lowPass(fc, rate float64) *biquad {
	w := 2 * math.Pi * fc / rate
	cw, alpha := math.Cos(w), math.Sin(w)/(2*butterworthQ)
	return newBiquad((1-cw)/2, 1-cw, (1-cw)/2, 1+alpha, -2*cw, 1-alpha)
}

func notch(fc, rate, q float64) *biquad {
	w := 2 * math.Pi * fc / rate
	cw, alpha := math.Cos(w), math.Sin(w)/(2*q)
	return newBiquad(1, -2*cw, 1, 1+alpha, -2*cw, 1-alpha)
}
