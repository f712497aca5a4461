// Package shell implements the mesh node's admin line-protocol: a small
// text command set served over TCP (peers, send, decom, stats) and an
// interactive readline REPL that speaks it.
package shell

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/clusterfabric/meshbus/pkg/config"
	"github.com/clusterfabric/meshbus/pkg/mesh"
	"go.uber.org/zap"
)

// Serve binds every address in svc.Addresses and answers the admin
// line-protocol against n. It returns once every listener is bound;
// each listener's accept loop runs in its own goroutine for the life of
// the process (there is no Close, the admin shell goes away with the
// node).
func Serve(svc config.BasicService, n *mesh.Net, log *zap.Logger) error {
	for _, addr := range svc.Addresses {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("shell: listen on %s: %w", addr, err)
		}
		log.Info("admin shell listening", zap.String("addr", addr))
		go acceptLoop(ln, n, log)
	}
	return nil
}

func acceptLoop(ln net.Listener, n *mesh.Net, log *zap.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Debug("admin shell accept loop exiting", zap.Error(err))
			return
		}
		go handleConn(conn, n, log)
	}
}

// endOfReply terminates every reply so the client knows where one command's
// output ends and the next begins without relying on a connection-level
// prompt byte (which would have no newline to anchor a line-oriented read).
const endOfReply = "\x04"

func handleConn(conn net.Conn, n *mesh.Net, log *zap.Logger) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "meshnoded admin shell (%s), type 'help'\n%s\n", n.ID, endOfReply)
	w.Flush()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			fmt.Fprintln(w, endOfReply)
			w.Flush()
			continue
		}
		reply, quit := dispatch(line, n)
		w.WriteString(reply)
		if !strings.HasSuffix(reply, "\n") {
			w.WriteString("\n")
		}
		fmt.Fprintln(w, endOfReply)
		w.Flush()
		if quit {
			return
		}
	}
}

// dispatch runs one admin command and returns its reply text and whether
// the connection should now close.
func dispatch(line string, n *mesh.Net) (reply string, quit bool) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		return helpText, false
	case "quit", "exit":
		return "bye", true
	case "peers":
		return formatPeers(n.Snapshot()), false
	case "stats":
		return formatStats(n), false
	case "send":
		return cmdSend(n, args), false
	case "sendack":
		return cmdSendAck(n, args), false
	case "decom":
		return cmdDecom(n, args), false
	default:
		return fmt.Sprintf("unrecognized command %q, type 'help'", cmd), false
	}
}

const helpText = `commands:
  peers                              list known peers and their state
  stats                              this node's instance id and peer count
  send <host> <usertype> <text>      fire-and-forget USER_MSG
  sendack <host> <usertype> <ms> <text>  USER_MSG, wait up to <ms> for an ack
  decom <host>                       decommission a peer
  quit                               close this session`

func formatPeers(peers []mesh.PeerInfo) string {
	if len(peers) == 0 {
		return "(no peers known)"
	}
	var b strings.Builder
	for _, p := range peers {
		fmt.Fprintf(&b, "%-20s port=%-6d state=%-10s hello=%-5t subnet=%-6q distress=%-5t decom=%-5t queue=%d\n",
			p.Host, p.Port, p.State, p.GotHello, p.Subnet, p.Distress, p.DecomFlag, p.QueueLen)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStats(n *mesh.Net) string {
	return fmt.Sprintf("instance=%s peers=%d", n.ID, len(n.Snapshot()))
}

func cmdSend(n *mesh.Net, args []string) string {
	if len(args) < 3 {
		return "usage: send <host> <usertype> <text...>"
	}
	ut, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Sprintf("bad usertype: %v", err)
	}
	data := []byte(strings.Join(args[2:], " "))
	if err := n.Send(args[0], int32(ut), data, 0); err != nil {
		return fmt.Sprintf("send failed: %v", err)
	}
	return "ok"
}

func cmdSendAck(n *mesh.Net, args []string) string {
	if len(args) < 4 {
		return "usage: sendack <host> <usertype> <timeout_ms> <text...>"
	}
	ut, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Sprintf("bad usertype: %v", err)
	}
	waitMs, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Sprintf("bad timeout: %v", err)
	}
	data := []byte(strings.Join(args[3:], " "))
	rc, payload, err := n.SendMessagePayloadAck(args[0], int32(ut), data, waitMs)
	if err != nil {
		return fmt.Sprintf("sendack failed: %v", err)
	}
	return fmt.Sprintf("ack rc=%d payload=%q", rc, payload)
}

func cmdDecom(n *mesh.Net, args []string) string {
	if len(args) != 1 {
		return "usage: decom <host>"
	}
	if err := n.Decom(args[0]); err != nil {
		return fmt.Sprintf("decom failed: %v", err)
	}
	return "ok"
}
