// Command tabletop is a terminal client for a tablehub server.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/tablehub/tablehub/internal/domain/protocol"
)

type clientConfig struct {
	URL       string `env:"TABLEHUB_URL" envDefault:"ws://localhost:8080/ws"`
	Token     string `env:"TABLEHUB_TOKEN"`
	Name      string `env:"TABLEHUB_NAME"`
	Character string `env:"TABLEHUB_CHARACTER"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg clientConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+strings.TrimSpace(cfg.Token))
	}
	conn, _, err := websocket.DefaultDialer.Dial(cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(in protocol.Inbound) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(in)
	}

	p := tea.NewProgram(newModel(cfg, send), tea.WithAltScreen(), tea.WithMouseCellMotion())
	go func() {
		for {
			var f protocol.Frame
			if err := conn.ReadJSON(&f); err != nil {
				p.Send(connLostMsg{err: err})
				return
			}
			p.Send(frameMsg(f))
		}
	}()

	_, err = p.Run()
	return err
}
