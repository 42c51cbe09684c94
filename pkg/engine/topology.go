package engine

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// CPUInfoPath is where ReadTopology reads the processor table from.
const CPUInfoPath = "/proc/cpuinfo"

// CPU is one logical processor.
type CPU struct {
	// Processor is the logical processor number.
	Processor int `json:"processor"`

	// Socket is the physical package id.
	Socket int `json:"socket"`

	// Core is the core id within the socket.
	Core int `json:"core"`
}

// Topology describes the logical processors of the machine.
type Topology struct {
	// Model is the CPU model name.
	Model string `json:"model,omitempty"`

	// Vendor is the CPU vendor id.
	Vendor string `json:"vendor,omitempty"`

	// CPUs lists the logical processors in processor order.
	CPUs []CPU `json:"cpus"`
}

// ReadTopology reads the local processor topology.
func ReadTopology() (*Topology, error) {
	data, err := os.ReadFile(CPUInfoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", CPUInfoPath, err)
	}
	return ParseCPUInfo(string(data))
}

// ParseCPUInfo parses the contents of /proc/cpuinfo. A processor without a
// physical id is placed on socket 0; one without a core id is its own core.
func ParseCPUInfo(data string) (*Topology, error) {
	topo := &Topology{}
	var cur *CPU
	var hasCore bool

	flush := func() {
		if cur == nil {
			return
		}
		if !hasCore {
			cur.Core = cur.Processor
		}
		topo.CPUs = append(topo.CPUs, *cur)
		cur = nil
		hasCore = false
	}

	for _, line := range strings.Split(data, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "processor":
			flush()
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid processor number %q: %w", value, err)
			}
			cur = &CPU{Processor: n}
		case "physical id":
			if cur != nil {
				n, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("invalid physical id %q: %w", value, err)
				}
				cur.Socket = n
			}
		case "core id":
			if cur != nil {
				n, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("invalid core id %q: %w", value, err)
				}
				cur.Core = n
				hasCore = true
			}
		case "model name":
			topo.Model = value
		case "vendor_id":
			topo.Vendor = value
		}
	}
	flush()

	if len(topo.CPUs) == 0 {
		return nil, fmt.Errorf("no processors found")
	}
	sort.Slice(topo.CPUs, func(i, j int) bool { return topo.CPUs[i].Processor < topo.CPUs[j].Processor })
	return topo, nil
}

// Sockets returns the number of distinct sockets.
func (t *Topology) Sockets() int {
	seen := make(map[int]struct{})
	for _, c := range t.CPUs {
		seen[c.Socket] = struct{}{}
	}
	return len(seen)
}

// PreferenceOrder returns the logical processors ordered so that every
// socket gets a core before any socket gets a second core, and every core
// gets a thread before any core gets a second thread.
func (t *Topology) PreferenceOrder() []int {
	type coreKey struct{ socket, core int }
	threads := make(map[coreKey][]int)
	socketCores := make(map[int][]int)
	for _, c := range t.CPUs {
		k := coreKey{c.Socket, c.Core}
		if _, ok := threads[k]; !ok {
			socketCores[c.Socket] = append(socketCores[c.Socket], c.Core)
		}
		threads[k] = append(threads[k], c.Processor)
	}

	var sockets []int
	maxCores, maxThreads := 0, 0
	for s, cores := range socketCores {
		sockets = append(sockets, s)
		sort.Ints(cores)
		maxCores = max(maxCores, len(cores))
	}
	sort.Ints(sockets)
	for k, procs := range threads {
		sort.Ints(procs)
		threads[k] = procs
		maxThreads = max(maxThreads, len(procs))
	}

	order := make([]int, 0, len(t.CPUs))
	for thread := 0; thread < maxThreads; thread++ {
		for rank := 0; rank < maxCores; rank++ {
			for _, s := range sockets {
				cores := socketCores[s]
				if rank >= len(cores) {
					continue
				}
				procs := threads[coreKey{s, cores[rank]}]
				if thread < len(procs) {
					order = append(order, procs[thread])
				}
			}
		}
	}
	return order
}
