package cli

import (
	"net"

	"github.com/dmitrijs2005/postbox/internal/protocol"
)

// call dials the server, writes the operation and its fields, and reads the
// reply code. The connection is returned open so callers can read trailing
// fields; they must close it.
func (a *App) call(op string, fields ...string) (byte, net.Conn, error) {
	conn, err := a.dialer.Dial("tcp", a.config.ServerAddr)
	if err != nil {
		return 0, nil, err
	}

	if err := protocol.WriteString(conn, op); err != nil {
		conn.Close()
		return 0, nil, err
	}
	for _, f := range fields {
		if err := protocol.WriteString(conn, f); err != nil {
			conn.Close()
			return 0, nil, err
		}
	}

	code, err := protocol.ReadReply(conn)
	if err != nil {
		conn.Close()
		return 0, nil, err
	}
	return code, conn, nil
}

func (a *App) Register(user string) byte {
	code, conn, err := a.call(protocol.OpRegister, user)
	if err != nil {
		a.printf("REGISTRATION FAIL\n")
		return protocol.RepRegisterFail
	}
	conn.Close()

	switch code {
	case protocol.RepSuccess:
		a.printf("REGISTER OK\n")
	case protocol.RepRegisterAlreadyRegistered:
		a.printf("USERNAME IN USE\n")
	default:
		a.printf("REGISTRATION FAIL\n")
	}
	return code
}

func (a *App) Unregister(user string) byte {
	code, conn, err := a.call(protocol.OpUnregister, user)
	if err != nil {
		a.printf("UNREGISTER FAIL\n")
		return protocol.RepUnregisterFail
	}
	conn.Close()

	switch code {
	case protocol.RepSuccess:
		// the session user is gone together with its registration
		a.mu.Lock()
		port, done := a.listenPort, a.listenerDone
		connected := a.connectedUser != ""
		a.connectedUser = ""
		a.mu.Unlock()
		if connected {
			a.stopListener(port, done)
		}
		a.printf("UNREGISTER OK\n")
	case protocol.RepUnregisterNotExists:
		a.printf("USER DOES NOT EXIST\n")
	default:
		a.printf("UNREGISTER FAIL\n")
	}
	return code
}

func (a *App) Connect(user string) byte {
	a.mu.Lock()
	current := a.connectedUser
	a.mu.Unlock()
	if current != "" && current != user {
		a.printf("Please disconnect '%s' user first\n", current)
		return codeConnectDifferentUser
	}

	// bind an ephemeral port for server pushes before asking to connect
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		a.printf("CONNECT FAIL\n")
		return protocol.RepConnectFail
	}
	port := ln.Addr().(*net.TCPAddr).Port
	done := a.startListener(ln)

	code := protocol.RepConnectFail
	if c, conn, err := a.call(protocol.OpConnect, user, itoa(port)); err == nil {
		conn.Close()
		code = c
	}

	switch code {
	case protocol.RepSuccess:
		a.mu.Lock()
		a.connectedUser = user
		a.listenPort = port
		a.listenerDone = done
		a.mu.Unlock()
		a.printf("CONNECT OK\n")
		return code
	case protocol.RepConnectNotExists:
		a.printf("CONNECT FAIL, USER DOES NOT EXIST\n")
	case protocol.RepConnectAlreadyConnected:
		a.printf("USER ALREADY CONNECTED\n")
	default:
		a.printf("CONNECT FAIL\n")
	}

	// the listener bound for this attempt is not needed
	a.stopListener(port, done)
	return code
}

func (a *App) Disconnect(user string) byte {
	a.mu.Lock()
	current := a.connectedUser
	a.mu.Unlock()
	if current != "" && current != user {
		a.printf("Cannot disconnect '%s' user: it is not connected on this session\n", user)
		return codeDisconnectDifferentUser
	}

	code := protocol.RepDisconnectFail
	if c, conn, err := a.call(protocol.OpDisconnect, user); err == nil {
		conn.Close()
		code = c
	}

	switch code {
	case protocol.RepSuccess:
		a.mu.Lock()
		port, done := a.listenPort, a.listenerDone
		connected := a.connectedUser != ""
		a.connectedUser = ""
		a.mu.Unlock()
		if connected {
			a.stopListener(port, done)
		}
		a.printf("DISCONNECT OK\n")
	case protocol.RepDisconnectNotExists:
		a.printf("DISCONNECT FAIL / USER DOES NOT EXIST\n")
	case protocol.RepDisconnectNotConnected:
		a.printf("DISCONNECT FAIL / USER NOT CONNECTED\n")
	default:
		a.printf("DISCONNECT FAIL\n")
	}
	return code
}

func (a *App) Send(recipient, message string) byte {
	if len(message) > protocol.MaxContentLen-1 {
		a.printf("ERROR, MESSAGE TOO LONG\n")
		return protocol.RepSendFail
	}

	sender := a.ConnectedUser()
	code, conn, err := a.call(protocol.OpSend, sender, recipient, message)
	if err != nil {
		a.printf("SEND FAIL\n")
		return protocol.RepSendFail
	}
	defer conn.Close()

	switch code {
	case protocol.RepSuccess:
		// a successful reply carries the assigned message id
		id, err := protocol.ReadString(conn, protocol.MaxFieldLen)
		if err != nil {
			a.printf("SEND FAIL\n")
			return protocol.RepSendFail
		}
		a.printf("SEND OK - MESSAGE %s\n", id)
	case protocol.RepSendNotExists:
		a.printf("SEND FAIL / USER DOES NOT EXIST\n")
	default:
		a.printf("SEND FAIL\n")
	}
	return code
}
