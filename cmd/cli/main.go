package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
)

const defaultBaseURL = "http://localhost:8080"

type tokenData struct {
	Token string `json:"token"`
}

type authResponse struct {
	Token string `json:"token"`
}

// statusResponse mirrors the /mirrors/status/json payload.
type statusResponse struct {
	Cutoff         int64       `json:"cutoff"`
	LastCheck      *time.Time  `json:"last_check"`
	NumChecks      int         `json:"num_checks"`
	CheckFrequency *int64      `json:"check_frequency"`
	URLs           []statusURL `json:"urls"`
	Version        int         `json:"version"`
}

type statusURL struct {
	URL            string     `json:"url"`
	Protocol       string     `json:"protocol"`
	LastSync       *time.Time `json:"last_sync"`
	CompletionPct  *float64   `json:"completion_pct"`
	Delay          *int64     `json:"delay"`
	DurationAvg    *float64   `json:"duration_avg"`
	DurationStddev *float64   `json:"duration_stddev"`
	Score          *float64   `json:"score"`
	Country        string     `json:"country"`
	CountryCode    string     `json:"country_code"`
}

func main() {
	global := flag.NewFlagSet("mirrorhub", flag.ExitOnError)
	baseURL := global.String("api", defaultBaseURL, "API base URL")
	tokenPath := global.String("token", defaultTokenPath(), "token file path")
	if err := global.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	args := global.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	cmd := args[0]
	sub := ""
	if len(args) > 1 {
		sub = args[1]
	}

	client := &http.Client{Timeout: 15 * time.Second}

	switch cmd {
	case "auth":
		handleAuth(ctx, client, *baseURL, *tokenPath, sub, args[2:])
	case "status":
		handleStatus(ctx, client, *baseURL, args[1:])
	case "show":
		handleShow(ctx, client, *baseURL, *tokenPath, args[1:])
	case "locations":
		handleLocations(ctx, client, *baseURL)
	case "watch":
		handleWatch(*baseURL, args[1:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func handleAuth(ctx context.Context, client *http.Client, baseURL, tokenPath, sub string, args []string) {
	switch sub {
	case "login":
		fs := flag.NewFlagSet("auth login", flag.ExitOnError)
		username := fs.String("username", "", "username or email")
		password := fs.String("password", "", "password")
		_ = fs.Parse(args)

		if *username == "" || *password == "" {
			log.Fatal("username and password are required")
		}

		payload := map[string]string{"username": *username, "password": *password}
		var resp authResponse
		if err := doJSON(ctx, client, http.MethodPost, baseURL+"/auth/login", "", payload, &resp); err != nil {
			log.Fatalf("login failed: %v", err)
		}
		if err := saveToken(tokenPath, resp.Token); err != nil {
			log.Fatalf("save token: %v", err)
		}
		fmt.Println("✅ logged in")
	case "logout":
		// best effort server-side invalidation, then drop the local token
		if token, err := readToken(tokenPath); err == nil && token != "" {
			_ = doJSON(ctx, client, http.MethodPost, baseURL+"/auth/logout", token, nil, nil)
		}
		if err := clearToken(tokenPath); err != nil {
			log.Fatalf("logout failed: %v", err)
		}
		fmt.Println("✅ logged out")
	default:
		log.Fatal("usage: mirrorhub auth <login|logout>")
	}
}

func handleStatus(ctx context.Context, client *http.Client, baseURL string, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	tier := fs.String("tier", "", "restrict to one tier")
	raw := fs.Bool("json", false, "print raw JSON instead of a table")
	_ = fs.Parse(args)

	endpoint := baseURL + "/mirrors/status/json"
	if *tier != "" {
		endpoint = baseURL + "/mirrors/status/tier/" + url.PathEscape(*tier) + "/json"
	}

	var resp statusResponse
	if err := doJSON(ctx, client, http.MethodGet, endpoint, "", nil, &resp); err != nil {
		log.Fatalf("status failed: %v", err)
	}
	if *raw {
		printJSON(resp)
		return
	}

	if resp.LastCheck != nil {
		fmt.Printf("last check: %s\n", resp.LastCheck.UTC().Format("2006-01-02 15:04 MST"))
	}
	fmt.Printf("checks per url: %d\n\n", resp.NumChecks)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tPROTO\tCOUNTRY\tCOMPLETION\tDELAY\tSCORE")
	for _, u := range resp.URLs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			u.URL, u.Protocol, u.CountryCode,
			fmtPct(u.CompletionPct), fmtDelay(u.Delay), fmtFloat(u.Score))
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("flush table: %v", err)
	}
}

func handleShow(ctx context.Context, client *http.Client, baseURL, tokenPath string, args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	name := fs.String("name", "", "mirror name")
	_ = fs.Parse(args)
	if *name == "" {
		log.Fatal("mirror name is required")
	}

	// token is optional here; with one, private mirrors resolve too
	token, _ := readToken(tokenPath)

	var resp map[string]any
	endpoint := baseURL + "/mirrors/" + url.PathEscape(*name) + "/json"
	if err := doJSON(ctx, client, http.MethodGet, endpoint, token, nil, &resp); err != nil {
		log.Fatalf("show failed: %v", err)
	}
	printJSON(resp)
}

func handleLocations(ctx context.Context, client *http.Client, baseURL string) {
	var resp map[string]any
	if err := doJSON(ctx, client, http.MethodGet, baseURL+"/mirrors/locations/json", "", nil, &resp); err != nil {
		log.Fatalf("locations failed: %v", err)
	}
	printJSON(resp)
}

func handleWatch(baseURL string, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	wsURL := fs.String("ws", "", "WebSocket URL (defaults to /ws on API host)")
	_ = fs.Parse(args)

	endpoint := *wsURL
	if endpoint == "" {
		var err error
		endpoint, err = websocketURL(baseURL, "/ws")
		if err != nil {
			log.Fatalf("ws url: %v", err)
		}
	}
	if err := runWebSocket(endpoint); err != nil {
		log.Fatalf("watch failed: %v", err)
	}
}

func runWebSocket(wsURL string) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[watch] connected to %s", wsURL)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		fmt.Print(string(msg))
	}
}

func fmtPct(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *p*100)
}

func fmtDelay(secs *int64) string {
	if secs == nil {
		return "-"
	}
	return fmt.Sprintf("%d:%02d", *secs/3600, (*secs%3600)/60)
}

func fmtFloat(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *f)
}

func doJSON(ctx context.Context, client *http.Client, method, endpoint, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s failed: %s", method, endpoint, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("json: %v", err)
	}
	fmt.Println(string(b))
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.mirrorhub-token.json"
	}
	return filepath.Join(home, ".mirrorhub", "token.json")
}

func saveToken(path, token string) error {
	if token == "" {
		return errors.New("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tokenData{Token: token}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var td tokenData
	if err := json.Unmarshal(data, &td); err != nil {
		return "", err
	}
	return strings.TrimSpace(td.Token), nil
}

func clearToken(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func websocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{
		Scheme: scheme,
		Host:   u.Host,
		Path:   path,
	}).String(), nil
}

func printUsage() {
	fmt.Println("mirrorhub <command> [subcommand] [flags]")
	fmt.Println("commands:")
	fmt.Println("  auth login|logout")
	fmt.Println("  status [-tier N] [-json]")
	fmt.Println("  show -name <mirror>")
	fmt.Println("  locations")
	fmt.Println("  watch")
}
