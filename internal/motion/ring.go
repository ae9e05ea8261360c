package motion

// frameRing is the history of the last N = bg+mvt+1 scaled frames, indexed
// by three rotating cursors. newest is the slot written last; bgRemove and
// mvtRemove are the slots whose frames leave the background and movement
// windows on the next tick. Slots start zeroed, which produces the
// documented warm-up transient during the first N frames.
type frameRing struct {
	frames    [][]byte
	newest    int
	bgRemove  int
	mvtRemove int
}

func newFrameRing(bgLen, mvtLen, frameSize int) *frameRing {
	n := bgLen + mvtLen + 1

	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = make([]byte, frameSize)
	}

	return &frameRing{
		frames:    frames,
		newest:    0,
		bgRemove:  1,
		mvtRemove: n - mvtLen,
	}
}

func (r *frameRing) len() int { return len(r.frames) }

// push advances the newest cursor and overwrites that slot with the frame.
// Must happen before advance on each tick so the eviction cursors stay
// exactly bg+mvt and mvt slots behind the newest frame.
func (r *frameRing) push(frame []byte) {
	r.newest = (r.newest + 1) % len(r.frames)
	copy(r.frames[r.newest], frame)
}

// advance moves both eviction cursors one slot and returns the frames now
// leaving the background and movement windows.
func (r *frameRing) advance() (bgEvict, mvtEvict []byte) {
	r.bgRemove = (r.bgRemove + 1) % len(r.frames)
	r.mvtRemove = (r.mvtRemove + 1) % len(r.frames)
	return r.frames[r.bgRemove], r.frames[r.mvtRemove]
}
