package bus

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"tramtrack/utils"
)

func HandleShow(ctx context.Context, w io.Writer, s *Server) {
	host, err := utils.GetLocalIp()
	if err != nil {
		host = "unknown"
	}

	io.WriteString(w, "---------------\n")
	fmt.Fprintf(w, "Server ID: %s | Role: %s | Name: %s | Host: %s | Addr: %s\n", s.ID, s.Role, s.Name, host, s.Addr)
	fmt.Fprintf(w, "%s\n", hostStats(ctx))

	if s.Replicas != nil {
		io.WriteString(w, "--- Replicas ---\n")
		for _, st := range s.Replicas.Availability() {
			state := "DISCONNECTED"
			if st.Connected {
				state = "CONNECTED"
			}
			fmt.Fprintf(w, "  %s | Addr: %s | %s\n", st.Name, st.Addr, state)
		}
	}

	if s.Locations != nil {
		io.WriteString(w, "--- Tram Locations ---\n")
		locs, err := s.Locations.Locations()
		if err != nil {
			fmt.Fprintf(w, "  ERR %v\n", err)
		}
		trams := make([]int, 0, len(locs))
		for id := range locs {
			trams = append(trams, id)
		}
		sort.Ints(trams)
		for _, id := range trams {
			fmt.Fprintf(w, "  Tram: %d | Stop: %d\n", id, locs[id])
		}
		fmt.Fprintf(w, "  Total: %d\n", len(trams))
	}
	io.WriteString(w, "---------------\n")
}

func hostStats(ctx context.Context) string {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return "Memory: unavailable"
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		cores = 0
	}
	return fmt.Sprintf("Memory: %.1f%% of %d MB used | CPUs: %d", vm.UsedPercent, vm.Total/(1<<20), cores)
}
