package core

import "sync"

// DefaultSplitSize is used when a job does not configure one.
const DefaultSplitSize int64 = 64 << 20

// FinishResult describes what a Finish call changed.
type FinishResult struct {
	// NewlyDone is set when this report moved the item to Done.
	NewlyDone bool
	// PhaseComplete is set when every item of the pool is Done.
	PhaseComplete bool
	// Terminal is set when the item ran out of attempts without success;
	// the caller must fail the phase.
	Terminal bool
}

// ResourceManager owns the input-split pool of a job's map phase. It assigns
// splits to requesting workers and tracks per-split attempts and completion.
// All operations are serialized on an internal mutex.
type ResourceManager struct {
	mu          sync.Mutex
	items       []*ResourceItem
	maxAttempts int
	doneCount   int
}

// NewResourceManager chunks the enumerated input files by splitSize and
// numbers the resulting splits 0..M-1 in enumeration order.
func NewResourceManager(files []FileInfo, splitSize int64, maxAttempts int) *ResourceManager {
	if splitSize <= 0 {
		splitSize = DefaultSplitSize
	}
	m := &ResourceManager{maxAttempts: maxAttempts}
	no := 0
	for _, f := range files {
		offset := int64(0)
		for {
			size := f.Size - offset
			if size > splitSize {
				size = splitSize
			}
			m.items = append(m.items, &ResourceItem{
				No:        no,
				Status:    ResPending,
				InputFile: f.Path,
				Offset:    offset,
				Size:      size,
			})
			no++
			offset += size
			if offset >= f.Size {
				break
			}
		}
	}
	return m
}

// LoadResourceManager rebuilds a pool directly from a persisted input list,
// bypassing filesystem enumeration. Every split starts Pending.
func LoadResourceManager(inputs []InputInfo, maxAttempts int) *ResourceManager {
	m := &ResourceManager{maxAttempts: maxAttempts}
	for i, in := range inputs {
		m.items = append(m.items, &ResourceItem{
			No:        i,
			Status:    ResPending,
			InputFile: in.InputFile,
			Offset:    in.Offset,
			Size:      in.Size,
		})
	}
	return m
}

// Get returns the next split for the given worker, or nil with StatusNoMore
// when every split is Done, or nil with StatusSuspend when everything left is
// outstanding or out of retries. Preference order: lowest-numbered Pending
// split, then lowest-numbered Allocated split that still has attempt budget
// (a duplicate attempt covering a slow or silently failed worker).
func (m *ResourceManager) Get(endpoint string) (*ResourceItem, Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pick *ResourceItem
	allDone := true
	for _, it := range m.items {
		if it.Status == ResDone {
			continue
		}
		allDone = false
		if it.Status == ResPending && it.Attempt < m.maxAttempts {
			pick = it
			break
		}
	}
	if allDone {
		return nil, StatusNoMore
	}
	if pick == nil {
		for _, it := range m.items {
			if it.Status == ResAllocated &&
				it.Allocated < m.maxAttempts &&
				it.Attempt < m.maxAttempts {
				pick = it
				break
			}
		}
	}
	if pick == nil {
		return nil, StatusSuspend
	}

	out := *pick
	out.Status = ResAllocated
	out.Allocated = pick.Allocated + 1
	pick.Attempt++
	pick.Allocated++
	pick.Status = ResAllocated
	return &out, StatusOK
}

// Finish applies a worker's report for (no, attempt). The first Completed
// report moves the split to Done; later reports for a Done split are
// acknowledged without mutation. A failure of the final allowed attempt is
// reported as Terminal.
func (m *ResourceManager) Finish(no, attempt int, state TaskState) (FinishResult, Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res FinishResult
	if no < 0 || no >= len(m.items) {
		return res, StatusNoSuchTask
	}
	it := m.items[no]
	if attempt < 0 || attempt >= it.Attempt {
		return res, StatusNoSuchTask
	}

	if it.Allocated > 0 {
		it.Allocated--
	}
	if it.Status == ResDone {
		return res, StatusOK
	}

	if state == TaskCompleted {
		it.Status = ResDone
		m.doneCount++
		res.NewlyDone = true
		res.PhaseComplete = m.doneCount == len(m.items)
		return res, StatusOK
	}

	if attempt+1 >= m.maxAttempts {
		res.Terminal = true
		return res, StatusOK
	}
	if it.Allocated == 0 {
		it.Status = ResPending
	}
	return res, StatusOK
}

// Count returns (pending, allocated, done, total) split counts.
func (m *ResourceManager) Count() (pending, allocated, done, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		switch it.Status {
		case ResPending:
			pending++
		case ResAllocated:
			allocated++
		case ResDone:
			done++
		}
	}
	return pending, allocated, done, len(m.items)
}

// Complete reports whether every split is Done. A pool with no splits is
// trivially complete.
func (m *ResourceManager) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doneCount == len(m.items)
}

// Dump returns a copy of the full item list for snapshotting.
func (m *ResourceManager) Dump() []ResourceItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ResourceItem, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, *it)
	}
	return out
}

// Inputs returns the persisted form of the split list.
func (m *ResourceManager) Inputs() []InputInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InputInfo, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, InputInfo{
			InputFile: it.InputFile,
			Offset:    it.Offset,
			Size:      it.Size,
		})
	}
	return out
}

// Restore seeds completion and attempt counters on a freshly loaded pool.
// Splits are restored as Pending or Done only; outstanding allocations are
// not reconstructed.
func (m *ResourceManager) Restore(done map[int]bool, nextAttempt map[int]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if a, ok := nextAttempt[it.No]; ok && a > it.Attempt {
			it.Attempt = a
		}
		if done[it.No] && it.Status != ResDone {
			it.Status = ResDone
			m.doneCount++
		}
	}
}
