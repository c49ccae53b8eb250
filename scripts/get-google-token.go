//go:build ignore

// Obtains a Google OAuth token for linking a connector.
// Run with: go run scripts/get-google-token.go <credentials.json> [scope]
//
// Scopes:
//   gmail    - read-only mailbox access, for GMAIL connectors
//   calendar - event write access, for GOOGLE_CALENDAR connectors
//   both     - both of the above (default)
//
// The printed token JSON goes straight into the link request:
//   POST /api/v1/connectors {"provider": "GMAIL", "email": ..., "token_json": ...}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run scripts/get-google-token.go <credentials.json> [scope]")
		fmt.Println("Scopes: gmail, calendar, both (default: both)")
		os.Exit(1)
	}

	credFile := os.Args[1]
	scope := "both"
	if len(os.Args) > 2 {
		scope = os.Args[2]
	}

	credBytes, err := os.ReadFile(credFile)
	if err != nil {
		fmt.Printf("Error reading credentials: %v\n", err)
		os.Exit(1)
	}

	// Only the scopes the daemon actually uses: mail is never modified,
	// calendars only receive event inserts.
	var scopes []string
	switch scope {
	case "gmail":
		scopes = []string{gmail.GmailReadonlyScope}
	case "calendar":
		scopes = []string{calendar.CalendarEventsScope}
	case "both":
		scopes = []string{gmail.GmailReadonlyScope, calendar.CalendarEventsScope}
	default:
		fmt.Printf("Unknown scope: %s\n", scope)
		os.Exit(1)
	}

	config, err := google.ConfigFromJSON(credBytes, scopes...)
	if err != nil {
		fmt.Printf("Error parsing credentials: %v\n", err)
		os.Exit(1)
	}

	// Loopback redirect on a free port, the Desktop OAuth standard
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Printf("Error finding available port: %v\n", err)
		os.Exit(1)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	config.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			if errMsg := r.URL.Query().Get("error"); errMsg != "" {
				errChan <- fmt.Errorf("OAuth error: %s", errMsg)
				http.Error(w, "Authorization failed: "+errMsg, http.StatusBadRequest)
			}
			return
		}
		codeChan <- code
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html><html><body><h1>Done</h1><p>You can close this window and return to the terminal.</p></body></html>`)
	})

	server := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	defer server.Shutdown(context.Background())

	authURL := config.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Println("\nOpening browser for authentication...")
	if err := openBrowser(authURL); err != nil {
		fmt.Println("Could not open browser automatically. Open this URL manually:")
		fmt.Println(authURL)
	}

	fmt.Println("Waiting for authorization...")

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	case <-time.After(5 * time.Minute):
		fmt.Println("Timeout waiting for authorization")
		os.Exit(1)
	}

	token, err := config.Exchange(context.Background(), code)
	if err != nil {
		fmt.Printf("Error exchanging code: %v\n", err)
		os.Exit(1)
	}

	tokenJSON, _ := json.Marshal(token)

	fmt.Println("\nToken JSON (use as token_json when linking a connector):")
	fmt.Println(string(tokenJSON))
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}
