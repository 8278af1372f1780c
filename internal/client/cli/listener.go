package cli

import (
	"bufio"
	"net"
	"strconv"

	"github.com/dmitrijs2005/postbox/internal/protocol"
)

func itoa(port int) string {
	return strconv.Itoa(port)
}

// startListener serves server pushes on ln until an END_LISTEN_THREAD
// operation arrives. The returned channel closes when the goroutine exits.
func (a *App) startListener(ln net.Listener) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ln.Close()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			stop := a.handlePush(conn)
			conn.Close()
			if stop {
				return
			}
		}
	}()
	return done
}

// handlePush processes one pushed operation and reports whether the
// listener should stop.
func (a *App) handlePush(conn net.Conn) bool {
	r := bufio.NewReader(conn)

	op, err := protocol.ReadString(r, protocol.MaxFieldLen)
	if err != nil {
		return false
	}

	switch op {
	case protocol.OpSendMessage:
		sender, err := protocol.ReadString(r, protocol.MaxFieldLen)
		if err != nil {
			return false
		}
		id, err := protocol.ReadString(r, protocol.MaxFieldLen)
		if err != nil {
			return false
		}
		content, err := protocol.ReadString(r, protocol.MaxContentLen)
		if err != nil {
			return false
		}
		a.printf("c> MESSAGE %s FROM %s:\n %s\nEND\n", id, sender, content)

	case protocol.OpSendMessAck:
		id, err := protocol.ReadString(r, protocol.MaxFieldLen)
		if err != nil {
			return false
		}
		a.printf("c> SEND MESSAGE %s OK\n", id)

	case protocol.OpEndListener:
		return true

	default:
		a.printf("ERROR, INVALID OPERATION\n")
		return true
	}
	return false
}

// stopListener wakes the listener goroutine with an END_LISTEN_THREAD
// operation and waits for it to exit.
func (a *App) stopListener(port int, done chan struct{}) {
	if done == nil {
		return
	}
	conn, err := a.dialer.Dial("tcp", net.JoinHostPort("127.0.0.1", itoa(port)))
	if err != nil {
		return
	}
	protocol.WriteString(conn, protocol.OpEndListener)
	conn.Close()
	<-done
}
