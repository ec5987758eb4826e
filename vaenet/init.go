package vae

import "gonum.org/v1/gonum/mat"

// orthonormal64 builds a row-major [rows, cols] matrix whose smaller
// dimension is orthonormal, by QR-factorizing a Gaussian draw. Signs are
// fixed from the diagonal of R so the factorization is unique.
func orthonormal64(rows, cols int) []float64 {
	m, n := rows, cols
	trans := m < n
	if trans {
		m, n = n, m
	}
	a := mat.NewDense(m, n, gaussian64(m*n))
	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	retVal := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			qi, qj := i, j
			if trans {
				qi, qj = j, i
			}
			v := q.At(qi, qj)
			if r.At(qj, qj) < 0 {
				v = -v
			}
			retVal[i*cols+j] = v
		}
	}
	return retVal
}

// orthogonal32 returns an orthogonally initialized weight backing,
// scaled by gain.
func orthogonal32(gain float64, rows, cols int) []float32 {
	o := orthonormal64(rows, cols)
	retVal := make([]float32, len(o))
	for i, v := range o {
		retVal[i] = float32(gain * v)
	}
	return retVal
}

func zeroes32(n int) []float32 { return make([]float32, n) }

func ones32(n int) []float32 {
	retVal := make([]float32, n)
	for i := range retVal {
		retVal[i] = 1
	}
	return retVal
}
