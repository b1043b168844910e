package lockfile

// SlotCount reports how many in-process slots are tracked.
func (m *Manager) SlotCount() int {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()

	return len(m.slots)
}
