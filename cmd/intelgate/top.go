package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
	"github.com/edgebet/intelgate/pkg/streaming"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newTopCmd() *cobra.Command {
	var (
		serverURL  string
		providers  []string
		components []string
		status     bool
	)

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live view of gateway events from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			filter := streaming.Filter{Providers: providers, Components: components}
			if !status {
				filter.Types = []streaming.EventType{streaming.EventTypeFetch}
			}
			u, err := eventsURL(serverURL, filter)
			if err != nil {
				return err
			}
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
			if err != nil {
				return fmt.Errorf("connect %s: %w", u, err)
			}
			defer conn.Close()
			go func() {
				<-ctx.Done()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
			}()

			fmt.Printf("%-8s %-10s %-12s %-14s %-10s %-15s %4s %8s  %s\n",
				"TIME", "REQUEST", "COMPONENT", "KIND", "OUTCOME", "PROVIDER", "TRY", "LATENCY", "REASON")
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("read: %w", err)
				}
				printStreamEvent(data)
			}
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "intelgate server URL")
	cmd.Flags().StringSliceVar(&providers, "provider", nil, "only show events for these providers")
	cmd.Flags().StringSliceVar(&components, "component", nil, "only show events for these components")
	cmd.Flags().BoolVar(&status, "status", false, "also print periodic status snapshots")
	return cmd
}

func eventsURL(serverURL string, f streaming.Filter) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events"
	u.RawQuery = f.Query().Encode()
	return u.String(), nil
}

func printStreamEvent(data []byte) {
	var msg struct {
		Type      streaming.EventType `json:"type"`
		Timestamp time.Time           `json:"timestamp"`
		Data      json.RawMessage     `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("top: bad message: %v", err)
		return
	}

	switch msg.Type {
	case streaming.EventTypeFetch:
		var e models.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return
		}
		reqID := e.RequestID
		if len(reqID) > 8 {
			reqID = reqID[:8]
		}
		provider := e.Provider
		if e.CredentialID != "" {
			provider += "/" + e.CredentialID
		}
		fmt.Printf("%-8s %-10s %-12s %-14s %-10s %-15s %4d %6dms  %s\n",
			e.Time.Local().Format("15:04:05"), reqID, e.Component, e.Kind, e.Outcome,
			provider, e.Attempts, e.Latency.Milliseconds(), e.Reason)
	case streaming.EventTypeStatus:
		var st models.GatewayStatus
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			return
		}
		parts := make([]string, 0, len(st.Providers))
		for _, p := range st.Providers {
			parts = append(parts, p.Name+"="+p.Breaker.State)
		}
		fmt.Printf("-- %s breakers: %s\n", msg.Timestamp.Local().Format("15:04:05"), strings.Join(parts, " "))
	}
}
