package main

import (
	"bufio"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/rx3lixir/rill/internal/fanout"
	"github.com/rx3lixir/rill/internal/ws"
)

const uploadChunkSize = 32 * 1024

// Client is a small interactive chat client used for manual testing
type Client struct {
	conn   *websocket.Conn
	roomID string
	logger *log.Logger
}

func main() {
	serverAddr := flag.String("server", "localhost:8080", "server address")
	jwtToken := flag.String("token", "", "JWT authentication token")
	roomID := flag.String("room", "", "room id to enter")
	flag.Parse()

	if *jwtToken == "" {
		fmt.Println("Error: JWT token is required")
		fmt.Println("Usage: client -token YOUR_JWT_TOKEN -room ROOM_ID [-server localhost:8080]")
		os.Exit(1)
	}

	// Setup logger
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: true,
	})

	url := fmt.Sprintf("ws://%s/ws", *serverAddr)
	header := http.Header{"Authorization": []string{"Bearer " + *jwtToken}}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		logger.Error("Failed to connect", "url", url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	client := &Client{conn: conn, roomID: *roomID, logger: logger}

	logger.Info("Connected", "server", *serverAddr)

	go client.readLoop()

	if *roomID != "" {
		client.send(&ws.Inbound{Type: ws.OpEnterRoom, RoomID: *roomID})
	}

	fmt.Println("Type a message and press enter. Commands: /upload <path>, /read, /presence, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/read":
			client.send(&ws.Inbound{Type: ws.OpMarkRoomRead, RoomID: client.roomID})
		case line == "/presence":
			client.send(&ws.Inbound{Type: ws.OpGetRoomPresence, RoomID: client.roomID})
		case strings.HasPrefix(line, "/upload "):
			client.uploadFile(strings.TrimPrefix(line, "/upload "))
		default:
			client.send(&ws.Inbound{
				Type:    ws.OpSendMessage,
				RoomID:  client.roomID,
				Content: line,
			})
		}
	}
}

func (c *Client) send(in *ws.Inbound) {
	if err := c.conn.WriteJSON(in); err != nil {
		c.logger.Error("Failed to send", "op", in.Type, "error", err)
	}
}

func (c *Client) readLoop() {
	for {
		var ev fanout.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.logger.Error("Connection closed", "error", err)
			os.Exit(1)
		}

		switch ev.Type {
		case fanout.EventChatMessage:
			fmt.Printf("[%s] %s: %s\n", ev.RoomID, ev.Sender, ev.Content)
		case fanout.EventError:
			c.logger.Error("Server error", "kind", ev.ErrorKind, "detail", ev.ErrorDetail)
		case fanout.EventRoomPresence:
			fmt.Printf("viewing now: %v\n", ev.Users)
		case fanout.EventNotification:
			fmt.Printf("notification: %s\n", ev.Notification.Title)
		default:
			c.logger.Debug("Event", "type", ev.Type)
		}
	}
}

// uploadFile splits a file into base64 chunks and streams them to the
// server
func (c *Client) uploadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Error("Failed to read file", "path", path, "error", err)
		return
	}

	total := (len(data) + uploadChunkSize - 1) / uploadChunkSize
	fileName := filepath.Base(path)

	c.logger.Info("Uploading", "file", fileName, "size", len(data), "chunks", total)

	for i := 0; i < total; i++ {
		start := i * uploadChunkSize
		end := min(start+uploadChunkSize, len(data))

		c.send(&ws.Inbound{
			Type:        ws.OpUploadChunk,
			RoomID:      c.roomID,
			ChunkIndex:  i,
			TotalChunks: total,
			ChunkSize:   uploadChunkSize,
			FileName:    fileName,
			ContentType: "application/octet-stream",
			Base64Data:  base64.StdEncoding.EncodeToString(data[start:end]),
		})
	}
}
