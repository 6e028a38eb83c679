package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	goversion "github.com/hashicorp/go-version"
)

const (
	versionURL          = "https://raw.githubusercontent.com/sekz/welle.io-go/refs/heads/main/version.go"
	versionCheckTimeout = 10 * time.Second
	versionCheckPeriod  = 6 * time.Hour
)

var (
	// latestVersion holds the newest released version seen upstream
	latestVersion   string
	latestVersionMu sync.RWMutex
	// versionRegex matches the version constant in version.go
	versionRegex = regexp.MustCompile(`const\s+Version\s*=\s*"([^"]+)"`)
)

// GetLatestVersion returns the latest upstream version, empty until
// the first successful check
func GetLatestVersion() string {
	latestVersionMu.RLock()
	defer latestVersionMu.RUnlock()
	return latestVersion
}

func setLatestVersion(v string) {
	latestVersionMu.Lock()
	defer latestVersionMu.Unlock()
	latestVersion = v
}

// fetchUpstreamVersion fetches version.go from the repository and
// extracts the version constant
func fetchUpstreamVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", versionURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("welle.io-go/%s", Version))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch version file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if m := versionRegex.FindStringSubmatch(strings.TrimSpace(scanner.Text())); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("version constant not found")
}

// checkVersion compares the running version against upstream and logs
// when an update is available
func checkVersion(ctx context.Context) {
	upstream, err := fetchUpstreamVersion(ctx)
	if err != nil {
		log.Printf("Version: check failed: %v", err)
		return
	}
	setLatestVersion(upstream)

	current, err := goversion.NewVersion(Version)
	if err != nil {
		log.Printf("Version: cannot parse own version %q: %v", Version, err)
		return
	}
	latest, err := goversion.NewVersion(upstream)
	if err != nil {
		log.Printf("Version: cannot parse upstream version %q: %v", upstream, err)
		return
	}

	if latest.GreaterThan(current) {
		log.Printf("Version: update available: %s (running %s)", upstream, Version)
	} else if DebugMode {
		log.Printf("DEBUG: Version: up to date (%s)", Version)
	}
}

// StartVersionChecker checks once at startup and then periodically
func StartVersionChecker(ctx context.Context) {
	go func() {
		checkVersion(ctx)
		ticker := time.NewTicker(versionCheckPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkVersion(ctx)
			}
		}
	}()
}
