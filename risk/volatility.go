package risk

// volWindowSize 每个标的保留的波动率样本数。
const volWindowSize = 100

// volWindow 定长环形缓冲，保存最近 volWindowSize 个波动率样本，旧值先逐出。
type volWindow struct {
	buf   [volWindowSize]float64
	index int
	count int
}

func (w *volWindow) push(v float64) {
	w.buf[w.index] = v
	w.index = (w.index + 1) % volWindowSize
	if w.count < volWindowSize {
		w.count++
	}
}

// latest 最近一次样本；无样本时返回 (0, false)。
func (w *volWindow) latest() (float64, bool) {
	if w.count == 0 {
		return 0, false
	}
	i := w.index - 1
	if i < 0 {
		i = volWindowSize - 1
	}
	return w.buf[i], true
}

// mean 窗口均值，市场级熔断以此判定。
func (w *volWindow) mean() float64 {
	if w.count == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < w.count; i++ {
		sum += w.buf[i]
	}
	return sum / float64(w.count)
}

func (w *volWindow) size() int { return w.count }
