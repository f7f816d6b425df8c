package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
)

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type apiError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *apiError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s\n%s", e.Code, e.Message, strings.Join(e.Details, "\n"))
}

func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		return &apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type taskView struct {
	ID                   string     `json:"id"`
	ColumnID             string     `json:"column_id"`
	Title                string     `json:"title"`
	Status               string     `json:"status"`
	Priority             *int       `json:"priority"`
	DependsOn            []string   `json:"depends_on"`
	RequiredCapabilities []string   `json:"required_capabilities"`
	LeaseExpiresAt       *time.Time `json:"lease_expires_at"`
}

func printTask(t *taskView) {
	statusColor := color.New(color.FgWhite)
	switch t.Status {
	case "open":
		statusColor = color.New(color.FgGreen)
	case "leased":
		statusColor = color.New(color.FgYellow)
	case "done":
		statusColor = color.New(color.FgBlue)
	case "blocked":
		statusColor = color.New(color.FgRed)
	}
	fmt.Printf("%s  %s  %s  %s", t.ID, statusColor.Sprintf("%-7s", t.Status), t.ColumnID, t.Title)
	if t.Priority != nil {
		fmt.Printf("  p%d", *t.Priority)
	}
	if t.LeaseExpiresAt != nil && t.Status == "leased" {
		fmt.Printf("  (lease expires %s)", t.LeaseExpiresAt.Local().Format("15:04:05"))
	}
	fmt.Println()
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type agentPayload struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

func main() {
	app := kingpin.New("claimboard", "CLI client for the claimboard coordination server.")
	serverURL := app.Flag("server", "Server base URL.").Envar("CLAIMBOARD_SERVER").Default("http://localhost:3200").String()
	apiKey := app.Flag("api-key", "API key.").Envar("CLAIMBOARD_API_KEY").Required().String()
	agentName := app.Flag("agent", "Agent name.").Envar("CLAIMBOARD_AGENT").Default("cli").String()
	capabilities := app.Flag("capabilities", "Comma-separated agent capabilities.").Envar("CLAIMBOARD_CAPABILITIES").String()

	createCmd := app.Command("create", "Create a task.")
	createTitle := createCmd.Flag("title", "Task title.").Required().String()
	createColumn := createCmd.Flag("column", "Column id.").String()
	createPriority := createCmd.Flag("priority", "Priority (lower first).").Default("-1").Int()
	createDeps := createCmd.Flag("depends", "Comma-separated dependency task ids.").String()
	createRequires := createCmd.Flag("requires", "Comma-separated required capabilities.").String()

	listCmd := app.Command("list", "List tasks.")
	listColumn := listCmd.Flag("column", "Filter by column id.").String()
	listStatus := listCmd.Flag("status", "Filter by status.").String()

	nextCmd := app.Command("next", "Show the task a claim would pick, without claiming.")
	nextColumn := nextCmd.Flag("column", "Claim column id.").String()

	claimCmd := app.Command("claim", "Atomically claim the next eligible task.")
	claimColumn := claimCmd.Flag("column", "Claim column id.").String()

	unclaimCmd := app.Command("unclaim", "Release a claimed task back to open.")
	unclaimID := unclaimCmd.Arg("id", "Task id.").Required().String()
	unclaimReason := unclaimCmd.Flag("reason", "Why the task is being released.").String()

	completeCmd := app.Command("complete", "Mark a claimed task done.")
	completeID := completeCmd.Arg("id", "Task id.").Required().String()

	moveCmd := app.Command("move", "Move a task to another column.")
	moveID := moveCmd.Arg("id", "Task id.").Required().String()
	moveColumn := moveCmd.Flag("column", "Target column id.").Required().String()

	validateCmd := app.Command("validate", "Explain whether a task is claimable.")
	validateID := validateCmd.Arg("id", "Task id.").Required().String()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	c := &client{
		baseURL: strings.TrimRight(*serverURL, "/"),
		apiKey:  *apiKey,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	agent := agentPayload{Name: *agentName, Capabilities: splitComma(*capabilities)}
	agentQuery := fmt.Sprintf("agent=%s&capabilities=%s", agent.Name, strings.Join(agent.Capabilities, ","))

	var err error
	switch cmd {
	case createCmd.FullCommand():
		body := map[string]any{
			"title":                 *createTitle,
			"column_id":             *createColumn,
			"depends_on":            splitComma(*createDeps),
			"required_capabilities": splitComma(*createRequires),
		}
		if *createPriority >= 0 {
			body["priority"] = *createPriority
		}
		var t taskView
		if err = c.do(http.MethodPost, "/api/tasks", body, &t); err == nil {
			printTask(&t)
		}
	case listCmd.FullCommand():
		var resp struct {
			Tasks []*taskView `json:"tasks"`
		}
		path := fmt.Sprintf("/api/tasks?column=%s&status=%s", *listColumn, *listStatus)
		if err = c.do(http.MethodGet, path, nil, &resp); err == nil {
			for _, t := range resp.Tasks {
				printTask(t)
			}
		}
	case nextCmd.FullCommand():
		var t taskView
		path := fmt.Sprintf("/api/tasks/next?column=%s&%s", *nextColumn, agentQuery)
		if err = c.do(http.MethodGet, path, nil, &t); err == nil {
			printTask(&t)
		}
	case claimCmd.FullCommand():
		var t taskView
		body := map[string]any{"column_id": *claimColumn, "agent": agent}
		if err = c.do(http.MethodPost, "/api/claims", body, &t); err == nil {
			color.Green("claimed:")
			printTask(&t)
		}
	case unclaimCmd.FullCommand():
		var t taskView
		body := map[string]any{"reason": *unclaimReason, "agent": agent}
		if err = c.do(http.MethodPost, "/api/tasks/"+*unclaimID+"/unclaim", body, &t); err == nil {
			printTask(&t)
		}
	case completeCmd.FullCommand():
		var t taskView
		body := map[string]any{"agent": agent}
		if err = c.do(http.MethodPost, "/api/tasks/"+*completeID+"/complete", body, &t); err == nil {
			printTask(&t)
		}
	case moveCmd.FullCommand():
		var t taskView
		body := map[string]any{"column": *moveColumn, "agent": agent}
		if err = c.do(http.MethodPost, "/api/tasks/"+*moveID+"/move", body, &t); err == nil {
			printTask(&t)
		}
	case validateCmd.FullCommand():
		var report struct {
			Ready        bool   `json:"ready"`
			FailingCheck string `json:"failing_check"`
			Reason       string `json:"reason"`
		}
		path := "/api/tasks/" + *validateID + "/validate?" + agentQuery
		if err = c.do(http.MethodGet, path, nil, &report); err == nil {
			if report.Ready {
				color.Green("ready")
			} else {
				color.Red("not ready [%s]: %s", report.FailingCheck, report.Reason)
			}
		}
	}
	if err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}
