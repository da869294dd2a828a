package support

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/kappi/internal/server"
	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

func (testCtx *TestContext) iConnectToTheWebSocket() error {
	base, err := testCtx.GetServerURL()
	if err != nil {
		return err
	}
	url := "ws" + strings.TrimPrefix(base, "http") + "/classify/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", url, err)
	}
	testCtx.WSConn = conn
	testCtx.WSMessages = nil
	return nil
}

func (testCtx *TestContext) iSendOverTheWebSocket(name, variety string) error {
	if testCtx.WSConn == nil {
		return fmt.Errorf("websocket is not connected")
	}
	data, err := os.ReadFile(testCtx.TempPath(name))
	if err != nil {
		return err
	}
	return testCtx.WSConn.WriteJSON(server.WebSocketClassifyRequest{
		Type:    "classify",
		Image:   data,
		Variety: variety,
	})
}

func (testCtx *TestContext) iSendRawOverTheWebSocket(raw string) error {
	if testCtx.WSConn == nil {
		return fmt.Errorf("websocket is not connected")
	}
	return testCtx.WSConn.WriteMessage(websocket.TextMessage, []byte(raw))
}

// iReceiveMessages reads n messages, keeping them for later assertions.
func (testCtx *TestContext) iReceiveMessages(n int) error {
	for range n {
		if err := testCtx.WSConn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return err
		}
		_, data, err := testCtx.WSConn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read websocket message: %w", err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("websocket message is not JSON: %w", err)
		}
		testCtx.WSMessages = append(testCtx.WSMessages, msg)
	}
	return nil
}

func (testCtx *TestContext) websocketMessageShouldHave(index int, field, expected string) error {
	if index < 1 || index > len(testCtx.WSMessages) {
		return fmt.Errorf("only %d websocket messages received", len(testCtx.WSMessages))
	}
	msg := testCtx.WSMessages[index-1]
	var v any = msg
	for _, part := range strings.Split(field, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot navigate into %q of message %d: %v", part, index, msg)
		}
		if v, ok = m[part]; !ok {
			return fmt.Errorf("message %d has no field %q: %v", index, field, msg)
		}
	}
	if got := fmt.Sprint(v); got != expected {
		return fmt.Errorf("message %d field %q is %q, expected %q", index, field, got, expected)
	}
	return nil
}

func (testCtx *TestContext) allMessagesShareRequestID() error {
	if len(testCtx.WSMessages) < 2 {
		return fmt.Errorf("need at least two messages, got %d", len(testCtx.WSMessages))
	}
	id, _ := testCtx.WSMessages[0]["request_id"].(string)
	if id == "" {
		return fmt.Errorf("first message has no request_id")
	}
	for i, msg := range testCtx.WSMessages[1:] {
		if msg["request_id"] != id {
			return fmt.Errorf("message %d has request_id %v, expected %s", i+2, msg["request_id"], id)
		}
	}
	return nil
}

// RegisterWebSocketSteps registers the WebSocket API steps.
func (testCtx *TestContext) RegisterWebSocketSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I connect to the classification websocket$`, testCtx.iConnectToTheWebSocket)
	sc.Step(`^I send "([^"]*)" over the websocket for variety "([^"]*)"$`, testCtx.iSendOverTheWebSocket)
	sc.Step(`^I send the raw websocket message '([^']*)'$`, testCtx.iSendRawOverTheWebSocket)
	sc.Step(`^I receive (\d+) websocket messages?$`, testCtx.iReceiveMessages)
	sc.Step(`^websocket message (\d+) should have "([^"]*)" equal to "([^"]*)"$`, testCtx.websocketMessageShouldHave)
	sc.Step(`^all websocket messages should share one request id$`, testCtx.allMessagesShareRequestID)
}
