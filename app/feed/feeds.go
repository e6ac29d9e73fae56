package feed

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func LoadFeeds(path string) ([]Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds file: %w", err)
	}

	var file feedsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feeds file: %w", err)
	}

	if len(file.Feeds) == 0 {
		return nil, fmt.Errorf("feeds file %s contains no feeds", path)
	}

	seen := make(map[string]bool, len(file.Feeds))
	for i, f := range file.Feeds {
		if f.Name == "" {
			return nil, fmt.Errorf("feed at index %d has no name", i)
		}
		if f.URL == "" {
			return nil, fmt.Errorf("feed %q has no URL", f.Name)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate feed name %q", f.Name)
		}
		seen[f.Name] = true
	}

	return file.Feeds, nil
}

func EnabledFeeds(feeds []Feed) []Feed {
	enabled := make([]Feed, 0, len(feeds))
	for _, f := range feeds {
		if f.Enabled {
			enabled = append(enabled, f)
		}
	}
	return enabled
}
