package core

// IdAllocator owns the reduce-slot pool of a job: N dense slot numbers handed
// out and retried exactly like input splits. It delegates the bookkeeping to
// a ResourceManager whose items carry no input span.
type IdAllocator struct {
	inner *ResourceManager
}

// NewIdAllocator builds a pool of slots numbered 0..total-1.
func NewIdAllocator(total, maxAttempts int) *IdAllocator {
	files := make([]FileInfo, 0, total)
	for i := 0; i < total; i++ {
		files = append(files, FileInfo{Size: 1})
	}
	a := &IdAllocator{inner: NewResourceManager(files, 1, maxAttempts)}
	return a
}

func (a *IdAllocator) Get(endpoint string) (*IdItem, Status) {
	item, status := a.inner.Get(endpoint)
	if item == nil {
		return nil, status
	}
	return &IdItem{
		No:        item.No,
		Attempt:   item.Attempt,
		Status:    item.Status,
		Allocated: item.Allocated,
	}, status
}

func (a *IdAllocator) Finish(no, attempt int, state TaskState) (FinishResult, Status) {
	return a.inner.Finish(no, attempt, state)
}

func (a *IdAllocator) Count() (pending, allocated, done, total int) {
	return a.inner.Count()
}

func (a *IdAllocator) Complete() bool {
	return a.inner.Complete()
}

func (a *IdAllocator) Dump() []IdItem {
	items := a.inner.Dump()
	out := make([]IdItem, 0, len(items))
	for _, it := range items {
		out = append(out, IdItem{
			No:        it.No,
			Attempt:   it.Attempt,
			Status:    it.Status,
			Allocated: it.Allocated,
		})
	}
	return out
}

func (a *IdAllocator) Restore(done map[int]bool, nextAttempt map[int]int) {
	a.inner.Restore(done, nextAttempt)
}
