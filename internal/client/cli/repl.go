package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Register(user string) byte
	Unregister(user string) byte
	Connect(user string) byte
	Disconnect(user string) byte
	Send(recipient, message string) byte
	ConnectedUser() string
}

// runREPL starts a simple read–eval–print loop for the messaging client.
//
// It reads a line from the provided scanner, parses the first token as the
// command (case-insensitive), and dispatches to methods on 'a'. Unknown
// commands are reported back to the user. The loop exits on scanner EOF or
// when the user types QUIT; QUIT first disconnects the session user, if any.
//
// Commands:
//
//	REGISTER <userName>
//	UNREGISTER <userName>
//	CONNECT <userName>
//	DISCONNECT <userName>
//	SEND <userName> <message>
//	QUIT
//
// Reply codes returned by command handlers are ignored here; handlers print
// their own outcome lines. This keeps the REPL loop focused on I/O.
func runREPL(a execIface, out io.Writer, scanner *bufio.Scanner) {
	for {
		fmt.Fprint(out, "c> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := strings.ToUpper(parts[0])

		switch cmd {
		case "REGISTER":
			if len(parts) == 2 {
				a.Register(parts[1])
			} else {
				fmt.Fprintln(out, "Syntax error. Usage: REGISTER <userName>")
			}

		case "UNREGISTER":
			if len(parts) == 2 {
				a.Unregister(parts[1])
			} else {
				fmt.Fprintln(out, "Syntax error. Usage: UNREGISTER <userName>")
			}

		case "CONNECT":
			if len(parts) == 2 {
				a.Connect(parts[1])
			} else {
				fmt.Fprintln(out, "Syntax error. Usage: CONNECT <userName>")
			}

		case "DISCONNECT":
			if len(parts) == 2 {
				a.Disconnect(parts[1])
			} else {
				fmt.Fprintln(out, "Syntax error. Usage: DISCONNECT <userName>")
			}

		case "SEND":
			if len(parts) >= 3 {
				message := strings.Join(parts[2:], " ")
				a.Send(parts[1], message)
			} else {
				fmt.Fprintln(out, "Syntax error. Usage: SEND <userName> <message>")
			}

		case "QUIT":
			if len(parts) == 1 {
				if user := a.ConnectedUser(); user != "" {
					a.Disconnect(user)
				}
				return
			}
			fmt.Fprintln(out, "Syntax error. Use: QUIT")

		default:
			fmt.Fprintf(out, "Error: command %s not valid.\n", cmd)
		}
	}
}
