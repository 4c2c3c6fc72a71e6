package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Watchlist names the review jobs to subscribe to at startup
type Watchlist struct {
	Jobs []string `yaml:"jobs"`
}

// LoadWatchlist parses a YAML watchlist file. An empty path returns an
// empty watchlist; jobs can still be subscribed over the status API.
func LoadWatchlist(path string) (*Watchlist, error) {
	if path == "" {
		return &Watchlist{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist %s: %w", path, err)
	}

	var list Watchlist
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse watchlist %s: %w", path, err)
	}

	for i, job := range list.Jobs {
		list.Jobs[i] = strings.TrimSpace(job)
		if list.Jobs[i] == "" {
			return nil, fmt.Errorf("watchlist %s: empty job id at index %d", path, i)
		}
	}
	return &list, nil
}
