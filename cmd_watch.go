package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/xiaot623/autoreply/internal/domain"
	v1 "github.com/xiaot623/autoreply/internal/transport/http/v1"
)

var (
	watchAddr string
	watchUser string
)

// watchCmd prints a user's status events as they arrive.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream session status events for a user",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "ws://localhost:8080/v1/whatsapp/events", "status stream address")
	watchCmd.Flags().StringVar(&watchUser, "user", "", "user id to watch")
	_ = watchCmd.MarkFlagRequired("user")
}

func runWatch(cmd *cobra.Command, args []string) error {
	header := http.Header{}
	header.Set(v1.UserHeader, watchUser)

	conn, _, err := websocket.DefaultDialer.Dial(watchAddr, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s on %s (Ctrl+C to stop)\n", watchUser, watchAddr)

	done := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					err = nil
				}
				done <- err
				return
			}
			printEvent(out, data)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	select {
	case err := <-done:
		return err
	case <-interrupt:
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return nil
	}
}

func printEvent(out io.Writer, data []byte) {
	var evt domain.StatusEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		fmt.Fprintf(out, "unreadable event: %s\n", data)
		return
	}
	ts := time.UnixMilli(evt.Ts).Format(time.TimeOnly)
	switch evt.Type {
	case domain.EventTypeQR:
		fmt.Fprintf(out, "[%s] %s qr: %s\n", ts, evt.SessionID, evt.QRCode)
	case domain.EventTypeMessage:
		fmt.Fprintf(out, "[%s] %s message %s in %s\n", ts, evt.SessionID, evt.MessageID, evt.ChatID)
	default:
		line := fmt.Sprintf("[%s] %s %s", ts, evt.SessionID, evt.Status)
		if evt.Phone != "" {
			line += " phone=" + evt.Phone
		}
		if evt.Error != "" {
			line += " error=" + evt.Error
		}
		fmt.Fprintln(out, line)
	}
}
