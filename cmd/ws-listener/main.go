// Command ws-listener connects to a running feeder and prints every line it
// receives. Pings from the feeder are answered by the websocket library.
//
//	go run ./cmd/ws-listener ws://localhost:9001/aggTrade
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"pressure-feeder/internal/config"
)

func main() {
	url := "ws://localhost:9001/aggTrade"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	logger := config.NewLogger(os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		logger.Error("dial", slog.String("url", url), slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected", slog.String("url", url))

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				logger.Info("closed by feeder")
				return
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("read", slog.String("err", err.Error()))
			os.Exit(1)
		}
		fmt.Println(string(data))
	}
}
