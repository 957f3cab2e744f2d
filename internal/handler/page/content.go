package page

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Link is a call-to-action button.
type Link struct {
	Label string `yaml:"label"`
	Href  string `yaml:"href"`
}

// Card is one feature block on a marketing page.
type Card struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// Content is a static marketing page.
type Content struct {
	Key     string `yaml:"key"`
	Path    string `yaml:"path"`
	Nav     string `yaml:"nav"`
	Title   string `yaml:"title"`
	Intro   string `yaml:"intro"`
	Cards   []Card `yaml:"cards"`
	Closing *Card  `yaml:"closing"`
	Actions []Link `yaml:"actions"`
}

type catalog struct {
	Pages []Content `yaml:"pages"`
}

func parseContent(data []byte) ([]Content, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode page content: %w", err)
	}

	seen := make(map[string]bool, len(c.Pages))
	for _, p := range c.Pages {
		if p.Key == "" || p.Path == "" {
			return nil, fmt.Errorf("page content: entry %q needs key and path", p.Title)
		}
		if seen[p.Key] {
			return nil, fmt.Errorf("page content: duplicate key %q", p.Key)
		}
		seen[p.Key] = true
	}
	return c.Pages, nil
}
