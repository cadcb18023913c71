// Command ws_chat is a terminal client for manual testing of the chat and
// notification endpoints.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/samber/lo"

	"github.com/vovakirdan/flopchat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "ws://localhost:8080", "server base URL")
	token := flag.String("token", os.Getenv("FLOPCHAT_TOKEN"), "bearer token (see `flopchat token`)")
	user := flag.String("user", "", "your username, must match the token")
	to := flag.String("to", "", "recipient username")
	room := flag.String("room", "", "room name (defaults to a name derived from both users)")
	flag.Parse()

	if *token == "" || *user == "" || *to == "" {
		return errors.New("-token, -user and -to are required")
	}
	if *room == "" {
		*room = pairRoom(*user, *to)
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	chat, err := dial(ctx, *base+"/ws/chat/"+*room, *token)
	if err != nil {
		return err
	}
	defer chat.Close(websocket.StatusNormalClosure, "bye")

	inbox, err := dial(ctx, *base+"/ws/notification", *token)
	if err != nil {
		return err
	}
	defer inbox.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected as %s, chatting with %s in room %s\n", *user, *to, *room)
	fmt.Println("Type messages and press Enter to send. /read marks the conversation read. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, chat)
	}()
	go func() {
		defer cancel()
		readLoop(ctx, inbox)
	}()

	send := func(c *websocket.Conn, f proto.Frame) error {
		return wsjson.Write(ctx, c, f)
	}
	if err := send(chat, proto.Frame{Type: proto.TypeGetUsers, Sender: *user, Recipient: *to}); err != nil {
		return fmt.Errorf("request history: %w", err)
	}
	if err := send(inbox, proto.Frame{Type: proto.TypeNotification}); err != nil {
		return fmt.Errorf("request notifications: %w", err)
	}

	writeLoop(ctx, func(line string) error {
		if line == "/read" {
			return send(chat, proto.Frame{Type: proto.TypeMarkAsRead, Sender: *to, Recipient: *user})
		}
		return send(chat, proto.Frame{Type: proto.TypeChatMessage, Sender: *user, Recipient: *to, Message: line})
	})
	return nil
}

func dial(ctx context.Context, endpoint, token string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return conn, nil
}

// pairRoom names the room two users share regardless of who connects first.
func pairRoom(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f proto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			case websocket.StatusPolicyViolation:
				log.Printf("server rejected the token")
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch f.Type {
		case proto.TypeChatMessage:
			ts := ""
			if f.Timestamp != 0 {
				ts = time.Unix(f.Timestamp, 0).Format("15:04") + " "
			}
			fmt.Printf("%s%s: %s\n", ts, f.Sender, f.Message)
		case proto.TypeNotification:
			fmt.Printf("* %s: %q\n", f.Notification, f.Message)
		case proto.TypeReadReceipt:
			fmt.Printf("* marked %d message(s) read\n", lo.FromPtr(f.Count))
		case proto.TypeError:
			if f.Error != nil {
				fmt.Printf("! %s: %s\n", f.Error.Code, f.Error.Msg)
			}
		default:
			fmt.Printf("type=%s %+v\n", f.Type, f)
		}
	}
}

func writeLoop(ctx context.Context, send func(string) error) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := send(text); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
