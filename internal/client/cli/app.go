// Package cli implements the interactive messaging client: a small REPL
// that sends requests to the server and a listener goroutine that receives
// pushed messages and delivery acknowledgements.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/dmitrijs2005/postbox/internal/client/config"
)

// Client-local reply codes, never produced by the server.
const (
	codeConnectDifferentUser    byte = 4
	codeDisconnectDifferentUser byte = 4
)

type App struct {
	config *config.Config
	dialer net.Dialer
	out    io.Writer

	mu            sync.Mutex
	connectedUser string
	listenPort    int
	listenerDone  chan struct{}
}

func NewApp(c *config.Config) (*App, error) {
	return &App{
		config: c,
		dialer: net.Dialer{Timeout: c.DialTimeout},
		out:    os.Stdout,
	}, nil
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// ConnectedUser returns the username connected on this session, or "".
func (a *App) ConnectedUser() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectedUser
}

func (a *App) Run() {
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(a, a.out, scanner)
	a.printf("+++ FINISHED +++\n")
}
