//go:build windows

// Package winproc is a dma driver for running on the same Windows host as
// the game. It has no scatter primitive, so BatchRead issues one
// ReadProcessMemory per request inside a single call.
package winproc

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/afumu/barlens/dma"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
)

func init() {
	dma.Register("winproc", Open)
}

var userSpace = dma.Range{Start: 0x10000, End: 0x7ffffffeffff}

type Channel struct {
	cfg     dma.Config
	handles []windows.Handle
}

func Open(cfg dma.Config) (dma.Channel, error) {
	return &Channel{cfg: cfg}, nil
}

func (c *Channel) FindProcess(name string) (dma.Process, error) {
	pid := uint32(c.cfg.PID)
	if pid == 0 {
		var err error
		if pid, err = processID(name); err != nil {
			return nil, err
		}
	}

	// PROCESS_QUERY_INFORMATION | PROCESS_VM_READ
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	c.handles = append(c.handles, h)
	log.Debug().Uint32("pid", pid).Msg("process opened")
	return &Process{pid: pid, handle: h, ranges: c.cfg.MemMap}, nil
}

func (c *Channel) MapMemory() ([]dma.Range, error) {
	return []dma.Range{userSpace}, nil
}

func (c *Channel) Close() error {
	for _, h := range c.handles {
		_ = windows.CloseHandle(h)
	}
	c.handles = nil
	return nil
}

func processID(name string) (uint32, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return 0, err
	}
	for {
		if strings.EqualFold(windows.UTF16ToString(entry.ExeFile[:]), name) {
			return entry.ProcessID, nil
		}
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			break
		}
	}
	return 0, fmt.Errorf("%w: %s", dma.ErrProcessNotFound, name)
}

type Process struct {
	pid    uint32
	handle windows.Handle
	ranges []dma.Range
}

func (p *Process) PID() int { return int(p.pid) }

func (p *Process) ModuleBase(name string) (uint64, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, p.pid)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(snapshot)

	var me windows.ModuleEntry32
	me.Size = uint32(unsafe.Sizeof(me))
	if err := windows.Module32First(snapshot, &me); err != nil {
		return 0, fmt.Errorf("Module32First: %w", err)
	}
	for {
		if strings.EqualFold(windows.UTF16ToString(me.Module[:]), name) {
			return uint64(me.ModBaseAddr), nil
		}
		if err := windows.Module32Next(snapshot, &me); err != nil {
			break
		}
	}
	return 0, fmt.Errorf("%w: %s", dma.ErrModuleNotFound, name)
}

func (p *Process) allowed(addr uint64, size int) bool {
	if addr == 0 || size <= 0 {
		return false
	}
	if len(p.ranges) == 0 {
		return userSpace.Contains(addr, size)
	}
	for _, r := range p.ranges {
		if r.Contains(addr, size) {
			return true
		}
	}
	return false
}

func (p *Process) ReadBytes(addr uint64, size int) ([]byte, error) {
	if !p.allowed(addr, size) {
		return nil, fmt.Errorf("winproc: read of %d bytes at 0x%x outside memory map", size, addr)
	}
	buf := make([]byte, size)
	var n uintptr
	err := windows.ReadProcessMemory(p.handle, uintptr(addr), &buf[0], uintptr(size), &n)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("ReadProcessMemory 0x%x: %w", addr, err)
	}
	return buf[:n], nil
}

func (p *Process) BatchRead(reqs []dma.ReadRequest) [][]byte {
	out := make([][]byte, len(reqs))
	for i, req := range reqs {
		b, err := p.ReadBytes(req.Addr, req.Size)
		if err != nil || len(b) != req.Size {
			continue
		}
		out[i] = b
	}
	return out
}
