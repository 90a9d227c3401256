package tui

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cisco-netmig/script-push-board/internal/events"
)

// --- Message types ---

type eventMsg events.StatusEvent

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents connects to the SSE /api/v1/events endpoint and feeds
// decoded events into ch. Returns sseDisconnectedMsg when the connection
// drops so the model can schedule a reconnect.
func subscribeToEvents(apiURL, apiKey, batchID string, ch chan<- events.StatusEvent) tea.Cmd {
	return func() tea.Msg {
		endpoint := apiURL + "/api/v1/events"
		if batchID != "" {
			endpoint += "?batch=" + url.QueryEscape(batchID)
		}
		req, err := http.NewRequest("GET", endpoint, nil)
		if err != nil {
			return errMsg(err)
		}
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev events.StatusEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			ch <- ev
		}

		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the subscription channel.
func receiveNextEvent(ch chan events.StatusEvent) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}
