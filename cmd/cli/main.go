package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	serverURL   string
	apiKey      string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "social-dl",
		Short: "social-dl CLI - video downloader for TikTok, Instagram and YouTube",
		Long:  `A command-line interface for the social-dl download server.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "Server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SOCIALDL_API_KEY"), "API key sent in X-API-Key")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(playlistCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// call sends a request to the server and decodes a JSON response into out.
// Responses outside 2xx are reported with the server's error message.
func call(method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Kind != "" {
				return fmt.Errorf("%s (%s, HTTP %d)", apiErr.Error, apiErr.Kind, resp.StatusCode)
			}
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// session mirrors the server's session JSON
type session struct {
	ID       string `json:"session_id"`
	BatchID  string `json:"batch_id"`
	Status   string `json:"status"`
	URL      string `json:"url"`
	Platform string `json:"platform"`
	Quality  string `json:"quality"`
	Progress int    `json:"progress"`
	Filename string `json:"filename"`
	Metadata struct {
		Title  string `json:"title"`
		Author string `json:"author"`
	} `json:"metadata"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
	FileExpired bool      `json:"file_expired"`
	CreatedAt   time.Time `json:"created_at"`
}

type batch struct {
	ID            string `json:"session_id"`
	Status        string `json:"status"`
	Platform      string `json:"platform"`
	TotalURLs     int    `json:"total_urls"`
	ProcessedURLs int    `json:"processed_urls"`
	Progress      int    `json:"progress"`
	Errors        []struct {
		URL   string `json:"url"`
		Kind  string `json:"kind"`
		Error string `json:"error"`
	} `json:"errors"`
	Sessions []session `json:"sessions"`
}

func printSession(s session) {
	fmt.Printf("Session Details:\n")
	fmt.Printf("  ID:       %s\n", s.ID)
	fmt.Printf("  URL:      %s\n", s.URL)
	fmt.Printf("  Platform: %s\n", s.Platform)
	fmt.Printf("  Quality:  %s\n", s.Quality)
	fmt.Printf("  Status:   %s\n", s.Status)
	fmt.Printf("  Progress: %d%%\n", s.Progress)
	if s.Metadata.Title != "" {
		fmt.Printf("  Title:    %s\n", s.Metadata.Title)
	}
	if s.Filename != "" {
		fmt.Printf("  File:     %s\n", s.Filename)
	}
	if s.FileExpired {
		fmt.Printf("  Expired:  yes\n")
	}
	if s.Error != nil {
		fmt.Printf("  Error:    %s (%s)\n", s.Error.Message, s.Error.Kind)
	}
}

func printBatch(b batch) {
	fmt.Printf("Batch %s: %s\n", b.ID, b.Status)
	fmt.Printf("  Progress: %d/%d (%d%%)\n", b.ProcessedURLs, b.TotalURLs, b.Progress)
	for _, e := range b.Errors {
		fmt.Printf("  Failed:   %s: %s (%s)\n", truncate(e.URL, 60), e.Error, e.Kind)
	}
}

var downloadCmd = &cobra.Command{
	Use:   "download [url]",
	Short: "Start downloading a video",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		platform, _ := cmd.Flags().GetString("platform")
		quality, _ := cmd.Flags().GetString("quality")
		follow, _ := cmd.Flags().GetBool("watch")

		payload := map[string]string{"url": args[0]}
		if platform != "" {
			payload["platform"] = platform
		}
		if quality != "" {
			payload["quality"] = quality
		}

		var s session
		if err := call(http.MethodPost, "/api/v1/download", payload, &s); err != nil {
			fail("%v", err)
		}
		fmt.Printf("Download started!\n")
		fmt.Printf("ID: %s\n", s.ID)
		fmt.Printf("Status: %s\n", s.Status)

		if follow {
			watchSession(s.ID)
		}
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [url...]",
	Short: "Download several videos of one platform",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		platform, _ := cmd.Flags().GetString("platform")
		quality, _ := cmd.Flags().GetString("quality")

		payload := map[string]interface{}{"urls": args}
		if platform != "" {
			payload["platform"] = platform
		}
		if quality != "" {
			payload["quality"] = quality
		}

		var b batch
		if err := call(http.MethodPost, "/api/v1/batch-download", payload, &b); err != nil {
			fail("%v", err)
		}
		fmt.Printf("Batch started with %d videos\n", b.TotalURLs)
		fmt.Printf("ID: %s\n", b.ID)
	},
}

var playlistCmd = &cobra.Command{
	Use:   "playlist [url]",
	Short: "Download every video of a YouTube playlist",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		quality, _ := cmd.Flags().GetString("quality")
		payload := map[string]string{"url": args[0]}
		if quality != "" {
			payload["quality"] = quality
		}

		var b batch
		if err := call(http.MethodPost, "/api/v1/youtube/playlist", payload, &b); err != nil {
			fail("%v", err)
		}
		fmt.Printf("Playlist batch started with %d videos\n", b.TotalURLs)
		fmt.Printf("ID: %s\n", b.ID)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show a session or batch",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		id := args[0]

		isBatch, _ := cmd.Flags().GetBool("batch")
		if isBatch {
			var b batch
			if err := call(http.MethodGet, "/api/v1/batch/"+id, nil, &b); err != nil {
				fail("%v", err)
			}
			printBatch(b)
			return
		}

		var s session
		if err := call(http.MethodGet, "/api/v1/status/"+id, nil, &s); err != nil {
			fail("%v", err)
		}
		printSession(s)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [id]",
	Short: "Follow a session's progress until it finishes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		watchSession(args[0])
	},
}

// watchSession streams status pushes over the websocket until the server
// closes it on a terminal state
func watchSession(id string) {
	u, err := url.Parse(serverURL)
	if err != nil {
		fail("invalid server url: %v", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/ws/" + id

	header := http.Header{}
	if apiKey != "" {
		header.Set("X-API-Key", apiKey)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		fail("connect: %v", err)
	}
	defer conn.Close()

	var last session
	for {
		var s session
		if err := conn.ReadJSON(&s); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fail("%v", err)
			}
			break
		}
		last = s
		fmt.Printf("\r%-10s %3d%%", s.Status, s.Progress)
	}
	fmt.Println()

	if last.Error != nil {
		fail("%s (%s)", last.Error.Message, last.Error.Kind)
	}
	if last.Filename != "" {
		fmt.Printf("Done: %s\n", last.Filename)
	}
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [id]",
	Short: "Save a completed download to disk",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		id := args[0]
		dir, _ := cmd.Flags().GetString("output")

		var s session
		if err := call(http.MethodGet, "/api/v1/status/"+id, nil, &s); err != nil {
			fail("%v", err)
		}

		req, err := http.NewRequest(http.MethodGet, serverURL+"/api/v1/file/"+id, nil)
		if err != nil {
			fail("%v", err)
		}
		if apiKey != "" {
			req.Header.Set("X-API-Key", apiKey)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fail("%v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			fail("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		target := filepath.Join(dir, filepath.Base(s.Filename))
		f, err := os.Create(target)
		if err != nil {
			fail("%v", err)
		}
		n, err := io.Copy(f, resp.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(target)
			fail("%v", err)
		}
		fmt.Printf("Saved %s (%d bytes)\n", target, n)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a pending or running download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		if err := call(http.MethodPost, "/api/v1/sessions/"+args[0]+"/cancel", nil, nil); err != nil {
			fail("%v", err)
		}
		fmt.Println("Download cancelled successfully")
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		query := url.Values{}
		for _, name := range []string{"state", "platform", "batch_id"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				query.Set(name, v)
			}
		}
		path := "/api/v1/sessions"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		var result struct {
			Sessions []session `json:"sessions"`
		}
		if err := call(http.MethodGet, path, nil, &result); err != nil {
			fail("%v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tURL\tPLATFORM\tSTATUS\tPROGRESS\tCREATED")
		for _, s := range result.Sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
				truncate(s.ID, 8),
				truncate(s.URL, 40),
				s.Platform,
				s.Status,
				s.Progress,
				s.CreatedAt.Local().Format(time.DateTime))
		}
		w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show download statistics",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		var stats struct {
			Sessions map[string]int64 `json:"sessions"`
			InFlight int              `json:"in_flight"`
			Queued   int              `json:"queued"`
			Workers  int              `json:"workers"`
		}
		if err := call(http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
			fail("%v", err)
		}

		fmt.Println("Download Statistics:")
		fmt.Printf("  Total:      %v\n", stats.Sessions["total"])
		fmt.Printf("  Pending:    %v\n", stats.Sessions["pending"])
		fmt.Printf("  Processing: %v\n", stats.Sessions["processing"])
		fmt.Printf("  Completed:  %v\n", stats.Sessions["completed"])
		fmt.Printf("  Failed:     %v\n", stats.Sessions["failed"])
		fmt.Printf("  Expired:    %v\n", stats.Sessions["expired"])
		fmt.Printf("  Workers:    %d busy of %d, %d queued\n", stats.InFlight, stats.Workers, stats.Queued)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded download history",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		query := url.Values{}
		for _, name := range []string{"state", "platform"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				query.Set(name, v)
			}
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			query.Set("limit", fmt.Sprint(limit))
		}
		path := "/api/v1/history"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		var result struct {
			Entries []struct {
				SessionID  string    `json:"session_id"`
				URL        string    `json:"url"`
				Platform   string    `json:"platform"`
				State      string    `json:"status"`
				ErrorKind  string    `json:"error_kind"`
				RecordedAt time.Time `json:"recorded_at"`
			} `json:"entries"`
		}
		if err := call(http.MethodGet, path, nil, &result); err != nil {
			fail("%v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tSESSION\tPLATFORM\tSTATE\tERROR\tURL")
		for _, e := range result.Entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.RecordedAt.Local().Format(time.DateTime),
				truncate(e.SessionID, 8),
				e.Platform,
				e.State,
				e.ErrorKind,
				truncate(e.URL, 40))
		}
		w.Flush()
	},
}

func init() {
	downloadCmd.Flags().StringP("platform", "p", "", "Platform (tiktok, instagram, youtube); detected from the URL when empty")
	downloadCmd.Flags().StringP("quality", "q", "", "Quality (high, medium, low)")
	downloadCmd.Flags().BoolP("watch", "w", false, "Follow progress until the download finishes")
	batchCmd.Flags().StringP("platform", "p", "", "Platform shared by every URL")
	batchCmd.Flags().StringP("quality", "q", "", "Quality (high, medium, low)")
	playlistCmd.Flags().StringP("quality", "q", "", "Quality (high, medium, low)")
	statusCmd.Flags().BoolP("batch", "b", false, "Treat the id as a batch")
	fetchCmd.Flags().StringP("output", "o", ".", "Directory to save into")
	listCmd.Flags().StringP("state", "s", "", "Filter by state")
	listCmd.Flags().StringP("platform", "p", "", "Filter by platform")
	listCmd.Flags().String("batch_id", "", "Filter by batch")
	historyCmd.Flags().StringP("state", "s", "", "Filter by state")
	historyCmd.Flags().StringP("platform", "p", "", "Filter by platform")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum entries")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
