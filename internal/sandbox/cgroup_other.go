//go:build !linux

package sandbox

type cgroupManager struct{}

func newCgroupManager(executionID string, memLimit uint64, pidLimit uint32, cpuWeight uint64) (*cgroupManager, error) {
	return nil, nil
}

func (c *cgroupManager) AddPID(pid int) error { return nil }
func (c *cgroupManager) Stats() (Stats, error) { return Stats{}, nil }
func (c *cgroupManager) Kill() error           { return nil }
func (c *cgroupManager) Destroy() error        { return nil }
