package arena

// targetList returns the largest size-class list L (the narrowest width)
// whose width (arena_size >> L) is at least size: the list a request of this size must
// be served from. size <= 0 is folded into the smallest (leaf) class, which
// is how malloc(0) is handled.
//
// Returns ok = false if size exceeds the whole arena.
func (a *Arena) targetList(size int) (list int, ok bool) {
	if size > a.arenaSize {
		return 0, false
	}

	width := a.minSize
	list = a.lMax
	for width < size {
		width <<= 1
		list--
	}
	return list, true
}

func (a *Arena) actualSizeOf(list int) int {
	return a.arenaSize >> uint(list)
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func log2(n int) int {
	l := 0
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}
