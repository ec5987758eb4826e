package babytask

import (
	"reflect"
	"sync"
	"unsafe"
)

var rowPools = struct {
	sync.Mutex
	m map[[2]int]*sync.Pool
}{m: make(map[[2]int]*sync.Pool)}

func rowPool(m, n int) *sync.Pool {
	rowPools.Lock()
	defer rowPools.Unlock()
	key := [2]int{m, n}
	p, ok := rowPools.m[key]
	if !ok {
		p = &sync.Pool{
			New: func() interface{} {
				return make([][]float32, m)
			},
		}
		rowPools.m[key] = p
	}
	return p
}

// rowsOf aliases buf as an m by n matrix of row slices. No data is
// copied; the returned rows point into buf and must go back via
// returnRows before buf is released.
func rowsOf(buf []float32, m, n int) [][]float32 {
	rows := rowPool(m, n).Get().([][]float32)
	for i := range rows {
		hdr := (*reflect.SliceHeader)(unsafe.Pointer(&rows[i]))
		hdr.Data = uintptr(unsafe.Pointer(&buf[i*n]))
		hdr.Len = n
		hdr.Cap = n
	}
	return rows
}

func returnRows(m, n int, rows [][]float32) {
	rowPool(m, n).Put(rows)
}
