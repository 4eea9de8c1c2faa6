package camera

import "fmt"

// Handle 会话句柄，slot 定位会话，gen 区分同一 slot 的不同代
// 会话关闭后旧句柄失效，不会误取到复用 slot 的新会话
type Handle struct {
	slot uint32
	gen  uint32
}

// IsZero 零值句柄不指向任何会话
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.slot, h.gen)
}

type arenaSlot struct {
	gen     uint32
	session *Session
}

// arena 会话存储，调用方负责加锁
type arena struct {
	slots []arenaSlot
	free  []uint32
}

func (a *arena) insert(s *Session) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{})
		idx = uint32(len(a.slots) - 1)
	}
	sl := &a.slots[idx]
	sl.gen++
	sl.session = s
	return Handle{slot: idx, gen: sl.gen}
}

func (a *arena) get(h Handle) (*Session, bool) {
	if h.IsZero() || int(h.slot) >= len(a.slots) {
		return nil, false
	}
	sl := a.slots[h.slot]
	if sl.gen != h.gen || sl.session == nil {
		return nil, false
	}
	return sl.session, true
}

func (a *arena) remove(h Handle) (*Session, bool) {
	s, ok := a.get(h)
	if !ok {
		return nil, false
	}
	sl := &a.slots[h.slot]
	sl.session = nil
	// 释放时即递增代数，旧句柄立刻失效
	sl.gen++
	a.free = append(a.free, h.slot)
	return s, true
}

func (a *arena) len() int {
	return len(a.slots) - len(a.free)
}
