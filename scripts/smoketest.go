// Smoketest drives a running credpool server through its ops API: it checks
// health, fetches the active pool config, flips a credential's visibility and
// reads back pool statistics and quota status for a user.
//
// Usage:
//
//	go run smoketest.go -addr http://localhost:8080 -user 1
//	go run smoketest.go -addr http://localhost:8080 -user 1 -credential 3 -public
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	var (
		addr       = flag.String("addr", "http://localhost:8080", "credpool server base URL")
		user       = flag.Int64("user", 1, "User ID for quota and stats queries")
		credential = flag.Int64("credential", 0, "Credential ID to toggle visibility on (0 skips)")
		public     = flag.Bool("public", true, "Target visibility for -credential")
		timeoutSec = flag.Int("timeout", 5, "Per-request timeout in seconds")
	)
	flag.Parse()

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	get(client, *addr+"/healthz")
	get(client, *addr+"/poolconfig")
	get(client, fmt.Sprintf("%s/stats?user=%d", *addr, *user))
	get(client, fmt.Sprintf("%s/quota?user=%d", *addr, *user))

	if *credential != 0 {
		body, _ := json.Marshal(map[string]any{
			"credential_id": *credential,
			"public":        *public,
		})
		post(client, *addr+"/credentials/visibility", body)
	}

	get(client, *addr+"/metrics")
}

func get(client *http.Client, url string) {
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "GET %s failed: %v\n", url, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	dump("GET", url, resp)
}

func post(client *http.Client, url string, body []byte) {
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "POST %s failed: %v\n", url, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	dump("POST", url, resp)
}

func dump(method, url string, resp *http.Response) {
	payload, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s %s -> %d\n%s\n", method, url, resp.StatusCode, string(payload))
}
