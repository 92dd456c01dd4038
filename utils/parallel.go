package utils

import (
	"runtime"
	"sync"
)

// PartitionMap splits the index range [0, MaxIndex) into ParallelDegree
// contiguous buckets with a maximum imbalance of one item.
type PartitionMap struct {
	MaxIndex       int
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	if ParallelDegree < 1 {
		ParallelDegree = 1
	}
	if ParallelDegree > maxIndex && maxIndex > 0 {
		ParallelDegree = maxIndex
	}
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) Split1D(threadNum int) (bucket [2]int) {
	var (
		Npart            = pm.MaxIndex / (pm.ParallelDegree)
		startAdd, endAdd int
		remainder        int
	)
	remainder = pm.MaxIndex % pm.ParallelDegree
	if remainder != 0 { // spread the remainder over the first chunks evenly
		if threadNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = threadNum
			endAdd = 1
		}
	}
	bucket[0] = threadNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}

// RunParallel runs every fn on its own goroutine and waits for all of them.
// The returned error is the first non-nil error in argument order.
func RunParallel(fns ...func() error) error {
	var (
		wg   = sync.WaitGroup{}
		errs = make([]error, len(fns))
	)
	for n, fn := range fns {
		wg.Add(1)
		go func(n int, fn func() error) {
			defer wg.Done()
			errs[n] = fn()
		}(n, fn)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ParallelMulVecThreshold is the row count above which MulVecParallel fans
// out over the available CPUs.
var ParallelMulVecThreshold = 20000

// MulVecParallel computes dst = M*x, splitting the rows across goroutines for
// large matrices. Each row is still summed in stored order, so the result is
// identical to MulVec.
func (m CSR) MulVecParallel(dst, x []float64) {
	var (
		raw = m.RawMatrix()
		wg  = sync.WaitGroup{}
	)
	if raw.I < ParallelMulVecThreshold {
		m.MulVec(dst, x)
		return
	}
	if raw.J != len(x) || raw.I != len(dst) {
		m.MulVec(dst, x) // panics with the dimension message
		return
	}
	pm := NewPartitionMap(runtime.NumCPU(), raw.I)
	for np := 0; np < pm.ParallelDegree; np++ {
		wg.Add(1)
		go func(np int) {
			defer wg.Done()
			iMin, iMax := pm.GetBucketRange(np)
			for i := iMin; i < iMax; i++ {
				var sum float64
				for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
					sum += raw.Data[k] * x[raw.Ind[k]]
				}
				dst[i] = sum
			}
		}(np)
	}
	wg.Wait()
}
