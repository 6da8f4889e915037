// Package version holds build metadata and the release check.
package version

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// Version is set at build time using -ldflags.
	Version = "dev"

	// CommitHash is the git commit hash
	CommitHash = "unknown"

	// BuildDate is the build date
	BuildDate = "unknown"
)

// latestReleaseURL redirects to the newest release tag.
var latestReleaseURL = "https://github.com/shawkym/roomsync/releases/latest"

// CheckForUpdate reports whether a newer release than Version exists, and
// the latest tag when the check succeeded. Dev builds are never checked.
func CheckForUpdate() (bool, string, error) {
	if Version == "dev" || Version == "" || strings.Contains(Version, "dirty") {
		return false, "", nil
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Head(latestReleaseURL)
	if err != nil {
		return false, "", fmt.Errorf("failed to check for updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusMovedPermanently {
		return false, "", fmt.Errorf("unexpected release check status: %d", resp.StatusCode)
	}

	// Location ends in /releases/tag/vX.Y.Z
	location := resp.Header.Get("Location")
	if location == "" {
		return false, "", fmt.Errorf("no redirect location found")
	}
	parts := strings.Split(strings.TrimRight(location, "/"), "/")
	latestTag := parts[len(parts)-1]

	return compareVersions(latestTag, Version) > 0, latestTag, nil
}

// compareVersions returns 1 if v1 > v2, -1 if v1 < v2, 0 if equal.
func compareVersions(v1, v2 string) int {
	parts1 := strings.Split(strings.TrimPrefix(v1, "v"), ".")
	parts2 := strings.Split(strings.TrimPrefix(v2, "v"), ".")

	for len(parts1) < 3 {
		parts1 = append(parts1, "0")
	}
	for len(parts2) < 3 {
		parts2 = append(parts2, "0")
	}

	for i := 0; i < 3; i++ {
		var n1, n2 int
		// Unparsable parts compare as 0.
		fmt.Sscanf(parts1[i], "%d", &n1)
		fmt.Sscanf(parts2[i], "%d", &n2)

		if n1 > n2 {
			return 1
		}
		if n1 < n2 {
			return -1
		}
	}

	return 0
}

// GetVersionString returns the full version string
func GetVersionString() string {
	return fmt.Sprintf("roomsync version: %s (commit: %s, built: %s)", Version, CommitHash, BuildDate)
}

// GetShortVersion returns just the version number
func GetShortVersion() string {
	return Version
}
