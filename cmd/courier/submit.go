package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/courier/internal/classify"
	"github.com/ShayCichocki/courier/pkg/models"
)

var (
	serverURL      string
	submitOrigin   string
	submitTitle    string
	submitLabels   []string
	submitPriority string
	submitHold     bool
	submitWait     time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit [description]",
	Short: "Submit a request to a running server",
	Long: `Create a session on a running 'courier serve' and start it.

A second submission for an origin that still has a live session returns
that session instead of creating another.

Examples:
  courier submit --origin ENG-42 --title "Add API endpoint for user export"
  courier submit --origin ENG-43 --title "Login broken" --label bug --priority urgent --wait 30m`,
	RunE: runSubmit,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a session on a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	for _, c := range []*cobra.Command{submitCmd, cancelCmd} {
		c.Flags().StringVar(&serverURL, "server", "", "Server base URL (default http://localhost plus webhook.addr)")
	}
	submitCmd.Flags().StringVar(&submitOrigin, "origin", "", "Origin id of the issue-tracker item (required)")
	submitCmd.Flags().StringVar(&submitTitle, "title", "", "Request title")
	submitCmd.Flags().StringSliceVar(&submitLabels, "label", nil, "Issue label (repeatable)")
	submitCmd.Flags().StringVar(&submitPriority, "priority", "", "Issue priority")
	submitCmd.Flags().BoolVar(&submitHold, "hold", false, "Create the session without starting it")
	submitCmd.Flags().DurationVar(&submitWait, "wait", 0, "Wait up to this long for a terminal status")
	_ = submitCmd.MarkFlagRequired("origin")
}

// apiClient talks to the session intake API of 'courier serve'.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() (*apiClient, error) {
	base := serverURL
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		base = baseURLFor(cfg.Webhook.Addr)
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// baseURLFor turns a listen address such as ":8080" into a local URL.
func baseURLFor(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	if strings.HasPrefix(addr, "0.0.0.0:") {
		return "http://localhost" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return "http://" + addr
}

func (c *apiClient) do(ctx context.Context, method, path string, in any) (*models.Session, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out struct {
		models.Session
		Error  string          `json:"error"`
		Nested *models.Session `json:"session"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		if out.Error == "" {
			out.Error = http.StatusText(resp.StatusCode)
		}
		return out.Nested, fmt.Errorf("server returned %d: %s", resp.StatusCode, out.Error)
	}
	return &out.Session, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	meta := map[string]string{}
	if len(submitLabels) > 0 {
		meta[classify.MetaLabels] = strings.Join(submitLabels, ",")
	}
	if submitPriority != "" {
		meta[classify.MetaPriority] = submitPriority
	}

	ctx := cmd.Context()
	s, err := client.do(ctx, http.MethodPost, "/sessions", map[string]any{
		"origin_id":   submitOrigin,
		"title":       submitTitle,
		"description": strings.Join(args, " "),
		"metadata":    meta,
		"hold":        submitHold,
	})
	out := cmd.OutOrStdout()
	if s != nil {
		printSession(out, s, time.Now())
	}
	if err != nil || submitWait <= 0 || s.Status.Terminal() || s.Status == models.SessionCreated {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, submitWait)
	defer cancel()
	final, err := client.waitTerminal(wctx, s.ID, 2*time.Second)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	printSession(out, final, time.Now())
	if final.Status != models.SessionCompleted {
		return fmt.Errorf("session %s %s", final.ID, final.Status)
	}
	return nil
}

// waitTerminal polls the session until it reaches a terminal status.
func (c *apiClient) waitTerminal(ctx context.Context, id string, interval time.Duration) (*models.Session, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s, err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil)
		if err != nil {
			return nil, err
		}
		if s.Status.Terminal() {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for session %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	s, err := client.do(cmd.Context(), http.MethodPost, "/sessions/"+args[0]+"/cancel", nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s %s\n", s.ID, styleStatus(string(s.Status)))
	return nil
}
