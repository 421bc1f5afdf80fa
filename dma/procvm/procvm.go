//go:build linux

// Package procvm is a dma driver for Linux hosts. Reads go through
// process_vm_readv, which accepts many iovecs per call and so gives the
// scatter engine one syscall per round.
package procvm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/afumu/barlens/dma"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// iovMax is the kernel's UIO_MAXIOV.
const iovMax = 1024

func init() {
	dma.Register("procvm", Open)
}

// userSpace is the canonical x86-64 user address range. Every read is
// bounded by it.
var userSpace = dma.Range{Start: 0x10000, End: 0x7fffffffffff}

type Channel struct {
	cfg dma.Config
}

// Open returns a channel. Reads go through virtual addresses, so a loaded
// memory map does not narrow them; a map written by a physical driver
// would otherwise reject every heap and module address.
func Open(cfg dma.Config) (dma.Channel, error) {
	if _, err := os.Stat("/proc/self/maps"); err != nil {
		return nil, fmt.Errorf("procvm: procfs unavailable: %w", err)
	}
	if len(cfg.MemMap) > 0 && (len(cfg.MemMap) != 1 || cfg.MemMap[0] != userSpace) {
		log.Debug().Int("ranges", len(cfg.MemMap)).Msg("memory map is not a user address map, bounding reads to user space")
	}
	return &Channel{cfg: cfg}, nil
}

func (c *Channel) FindProcess(name string) (dma.Process, error) {
	if c.cfg.PID > 0 {
		if _, err := os.Stat(fmt.Sprintf("/proc/%d", c.cfg.PID)); err != nil {
			return nil, fmt.Errorf("%w: pid %d", dma.ErrProcessNotFound, c.cfg.PID)
		}
		return &Process{pid: c.cfg.PID}, nil
	}

	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	for _, p := range procs {
		if matchesName(p, name) {
			log.Debug().Int32("pid", p.Pid).Str("name", name).Msg("process matched")
			return &Process{pid: int(p.Pid)}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", dma.ErrProcessNotFound, name)
}

// matchesName compares against the process name and, since comm is
// truncated to 15 bytes and Windows games run under a loader, the base
// name of every command-line argument up to the executable.
func matchesName(p *process.Process, name string) bool {
	if n, err := p.Name(); err == nil && strings.EqualFold(n, name) {
		return true
	}
	args, err := p.CmdlineSlice()
	if err != nil {
		return false
	}
	for _, arg := range args {
		base := filepath.Base(strings.ReplaceAll(arg, `\`, "/"))
		if strings.EqualFold(base, name) {
			return true
		}
	}
	return false
}

// MapMemory reports the user address range. The host's physical layout
// means nothing to process_vm_readv.
func (c *Channel) MapMemory() ([]dma.Range, error) {
	return []dma.Range{userSpace}, nil
}

func (c *Channel) Close() error { return nil }

func parseSpan(s string) (uint64, uint64, bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err1 := strconv.ParseUint(parts[0], 16, 64)
	end, err2 := strconv.ParseUint(parts[1], 16, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return start, end, true
}

// Process is an attached Linux process.
type Process struct {
	pid int
}

func (p *Process) PID() int { return p.pid }

// ModuleBase returns the lowest mapping of a file whose base name
// matches name, case-insensitively.
func (p *Process) ModuleBase(name string) (uint64, error) {
	regions, err := parseProcMaps(p.pid)
	if err != nil {
		return 0, err
	}
	var base uint64
	for _, r := range regions {
		if r.Path == "" || !strings.EqualFold(filepath.Base(r.Path), name) {
			continue
		}
		if base == 0 || r.Start < base {
			base = r.Start
		}
	}
	if base == 0 {
		return 0, fmt.Errorf("%w: %s in pid %d", dma.ErrModuleNotFound, name, p.pid)
	}
	return base, nil
}

func (p *Process) allowed(addr uint64, size int) bool {
	if size <= 0 || addr == 0 {
		return false
	}
	return userSpace.Contains(addr, size)
}

func (p *Process) ReadBytes(addr uint64, size int) ([]byte, error) {
	if !p.allowed(addr, size) {
		return nil, fmt.Errorf("procvm: read of %d bytes at 0x%x outside user space", size, addr)
	}
	buf := make([]byte, size)
	n, err := readv(p.pid, [][]byte{buf}, []uint64{addr})
	if err != nil && n <= 0 {
		return nil, err
	}
	return buf[:n], nil
}

func (p *Process) BatchRead(reqs []dma.ReadRequest) [][]byte {
	out := make([][]byte, len(reqs))
	idx := make([]int, 0, len(reqs))
	for i, req := range reqs {
		if p.allowed(req.Addr, req.Size) {
			idx = append(idx, i)
		}
	}

	for len(idx) > 0 {
		chunk := idx
		if len(chunk) > iovMax {
			chunk = chunk[:iovMax]
		}
		bufs := make([][]byte, len(chunk))
		addrs := make([]uint64, len(chunk))
		for j, i := range chunk {
			bufs[j] = make([]byte, reqs[i].Size)
			addrs[j] = reqs[i].Addr
		}

		n, _ := readv(p.pid, bufs, addrs)
		done := 0
		for j := range chunk {
			if n < len(bufs[j]) {
				break
			}
			n -= len(bufs[j])
			out[chunk[j]] = bufs[j]
			done++
		}
		// The kernel stops at the first faulting iovec; skip it and
		// resubmit the rest.
		if done < len(chunk) {
			done++
		}
		idx = idx[done:]
	}
	return out
}

func readv(pid int, bufs [][]byte, addrs []uint64) (int, error) {
	local := make([]unix.Iovec, len(bufs))
	remote := make([]unix.RemoteIovec, len(bufs))
	for i, b := range bufs {
		local[i].Base = &b[0]
		local[i].SetLen(len(b))
		remote[i] = unix.RemoteIovec{Base: uintptr(addrs[i]), Len: len(b)}
	}
	n, err := unix.ProcessVMReadv(pid, local, remote, 0)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			return n, fmt.Errorf("%w: pid %d exited", dma.ErrProcessNotFound, pid)
		}
		return n, fmt.Errorf("process_vm_readv: %w", err)
	}
	return n, nil
}

type region struct {
	Start uint64
	End   uint64
	Perms string
	Path  string
}

func parseProcMaps(pid int) ([]region, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: pid %d", dma.ErrProcessNotFound, pid)
		}
		return nil, err
	}
	return parseMaps(string(data)), nil
}

func parseMaps(data string) []region {
	var regions []region
	for _, line := range strings.Split(data, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		start, end, ok := parseSpan(fields[0])
		if !ok {
			continue
		}
		r := region{Start: start, End: end, Perms: fields[1]}
		if len(fields) > 5 {
			r.Path = strings.Join(fields[5:], " ")
		}
		regions = append(regions, r)
	}
	return regions
}
