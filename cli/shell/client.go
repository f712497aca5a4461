package shell

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/chzyer/readline"
)

// Attach dials addr (a running node's admin shell listener) and drives an
// interactive readline REPL against it until the user quits or the
// connection drops.
func Attach(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("shell: connect to %s: %w", addr, err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	if err := printReply(r); err != nil {
		return fmt.Errorf("shell: read banner: %w", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mesh> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("shell: init readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(conn, "quit")
			return nil
		}
		if err != nil {
			return fmt.Errorf("shell: read line: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(conn, line); err != nil {
			return fmt.Errorf("shell: write command: %w", err)
		}
		if err := printReply(r); err != nil {
			return err
		}
		if line == "quit" || line == "exit" {
			return nil
		}
	}
}

// printReply copies server output lines to stdout up to (and consuming)
// the sentinel line the server sends after every reply.
func printReply(r *bufio.Reader) error {
	for {
		text, err := r.ReadString('\n')
		if strings.TrimRight(text, "\n") == endOfReply {
			return nil
		}
		if text != "" {
			fmt.Print(text)
		}
		if err != nil {
			return fmt.Errorf("shell: read reply: %w", err)
		}
	}
}
