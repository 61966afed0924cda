// Package bus is the line-oriented admin port every node opens next to its
// service port.
package bus

import (
	"bufio"
	"context"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"tramtrack/registry"
)

// ReplicaLister is implemented by the front end.
type ReplicaLister interface {
	Availability() []registry.Status
}

// Locator is implemented by a replica manager.
type Locator interface {
	Location(tramID int) (int, bool, error)
	Locations() (map[int]int, error)
}

// Server describes the node the bus reports on. Replicas or Locations may
// be nil when the node has none.
type Server struct {
	ID   string
	Role string
	Name string
	Addr string

	Replicas  ReplicaLister
	Locations Locator
}

// NewBusRoute serves admin commands on lis until ctx is cancelled.
func NewBusRoute(ctx context.Context, lis net.Listener, s *Server) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[WARN] bus %s: couldn't accept connection, err:%s", s.Name, err.Error())
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handleConnection(ctx, conn, s)
		}()
	}
}

func handleConnection(ctx context.Context, conn net.Conn, s *Server) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				log.Printf("[WARN] bus %s: reading err: %s", s.Name, err.Error())
			}
			return
		}
		HandleCommand(ctx, strings.TrimSpace(line), conn, s)
	}
}

// HandleCommand runs one admin command and writes its answer to w.
func HandleCommand(ctx context.Context, cmd string, w io.Writer, s *Server) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		io.WriteString(w, "ERR empty command\n")
		return
	}

	switch strings.ToUpper(parts[0]) {
	case "PING":
		io.WriteString(w, "PONG\n")
	case "SHOW":
		HandleShow(ctx, w, s)
	case "REPLICAS":
		HandleReplicas(w, s)
	case "LOCATION":
		HandleLocation(w, parts, s)
	default:
		io.WriteString(w, "ERR unknown command "+parts[0]+"\n")
	}
}

// HandleReplicas prints one "name addr on|off" line per configured replica.
func HandleReplicas(w io.Writer, s *Server) {
	if s.Replicas == nil {
		io.WriteString(w, "ERR not a front end\n")
		return
	}
	for _, st := range s.Replicas.Availability() {
		state := "off"
		if st.Connected {
			state = "on"
		}
		io.WriteString(w, st.Name+" "+st.Addr+" "+state+"\n")
	}
	io.WriteString(w, "END\n")
}

// HandleLocation expects: LOCATION <tramId>
func HandleLocation(w io.Writer, parts []string, s *Server) {
	if s.Locations == nil {
		io.WriteString(w, "ERR not a replica\n")
		return
	}
	if len(parts) != 2 {
		io.WriteString(w, "ERR usage: LOCATION <tramId>\n")
		return
	}
	tramID, err := strconv.Atoi(parts[1])
	if err != nil {
		io.WriteString(w, "ERR invalid tram id\n")
		return
	}
	stop, ok, err := s.Locations.Location(tramID)
	switch {
	case err != nil:
		io.WriteString(w, "ERR "+err.Error()+"\n")
	case !ok:
		io.WriteString(w, "NOTFOUND\n")
	default:
		io.WriteString(w, strconv.Itoa(stop)+"\n")
	}
}
