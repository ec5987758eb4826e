package vae

import (
	"sync"
	"time"

	rng "github.com/leesper/go_rng"
)

// The reparameterization noise comes from one shared source so that a
// single Seed call makes a whole run reproducible.
var (
	rngMu sync.Mutex
	gauss = rng.NewGaussianGenerator(time.Now().UnixNano())
)

// Seed reseeds the shared noise source.
func Seed(seed int64) {
	rngMu.Lock()
	gauss = rng.NewGaussianGenerator(seed)
	rngMu.Unlock()
}

func fillGaussian32(dst []float32) {
	rngMu.Lock()
	for i := range dst {
		dst[i] = float32(gauss.Gaussian(0, 1))
	}
	rngMu.Unlock()
}

func gaussian32(n int) []float32 {
	retVal := make([]float32, n)
	fillGaussian32(retVal)
	return retVal
}

func gaussian64(n int) []float64 {
	retVal := make([]float64, n)
	rngMu.Lock()
	for i := range retVal {
		retVal[i] = gauss.Gaussian(0, 1)
	}
	rngMu.Unlock()
	return retVal
}
