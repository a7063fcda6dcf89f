package config

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plugin identifies a managed plugin and the GitHub repository it is released from.
type Plugin struct {
	Owner       string `yaml:"owner"`
	Repo        string `yaml:"repo"`
	Basename    string `yaml:"basename"`
	Version     string `yaml:"version"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	UpdateURI   string `yaml:"update_uri"`
}

// Slug is the plugin directory, e.g. "bd-product-sheet-editor" for
// "bd-product-sheet-editor/bd-product-sheet-editor-pro.php".
func (p *Plugin) Slug() string {
	dir := path.Dir(p.Basename)
	if dir == "." || dir == "/" {
		return strings.TrimSuffix(path.Base(p.Basename), ".php")
	}
	return dir
}

func (p *Plugin) FullRepo() string {
	return fmt.Sprintf("%s/%s", p.Owner, p.Repo)
}

func (p *Plugin) Homepage() string {
	return fmt.Sprintf("https://github.com/%s", p.FullRepo())
}

func (p *Plugin) validate() error {
	if p.UpdateURI != "" && (p.Owner == "" || p.Repo == "") {
		owner, repo, err := ParseUpdateURI(p.UpdateURI)
		if err != nil {
			return err
		}
		p.Owner, p.Repo = owner, repo
	}
	switch {
	case p.Owner == "" || p.Repo == "":
		return fmt.Errorf("plugin %q: owner and repo are required", p.Basename)
	case p.Basename == "":
		return fmt.Errorf("plugin %s: basename is required", p.FullRepo())
	case p.Version == "":
		return fmt.Errorf("plugin %s: installed version is required", p.FullRepo())
	}
	if p.Name == "" {
		p.Name = p.Slug()
	}
	return nil
}

var updateURIRe = regexp.MustCompile(`github\.com/([^/]+)/([^/?#]+)`)

// ParseUpdateURI extracts owner and repository from a GitHub "Update URI" plugin header.
func ParseUpdateURI(uri string) (string, string, error) {
	m := updateURIRe.FindStringSubmatch(uri)
	if len(m) < 3 {
		return "", "", fmt.Errorf("could not parse GitHub repository from %q", uri)
	}
	return m[1], strings.TrimSuffix(m[2], ".git"), nil
}

type Plugins []*Plugin

func (l Plugins) Find(slug string) *Plugin {
	slug = strings.ToLower(slug)
	for _, p := range l {
		if strings.ToLower(p.Slug()) == slug {
			return p
		}
	}
	return nil
}

// ForRepo returns all plugins released from owner/repo.
func (l Plugins) ForRepo(owner, repo string) Plugins {
	ret := make(Plugins, 0)
	for _, p := range l {
		if strings.EqualFold(p.Owner, owner) && strings.EqualFold(p.Repo, repo) {
			ret = append(ret, p)
		}
	}
	return ret
}

var DefaultPlugins = Plugins{
	{
		Owner:       "buenedata",
		Repo:        "bd-product-sheet-editor",
		Basename:    "bd-product-sheet-editor/bd-product-sheet-editor-pro.php",
		Version:     "1.0.0",
		Name:        "BD Product Sheet Editor Pro",
		Description: "Edit WooCommerce products and product categories in a spreadsheet-like table.",
	},
}

type manifest struct {
	Plugins Plugins `yaml:"plugins"`
}

// LoadPlugins reads a YAML manifest of managed plugins. An empty file name returns the
// built-in list.
func LoadPlugins(fileName string) (Plugins, error) {
	if fileName == "" {
		return DefaultPlugins, nil
	}
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin manifest: %w", err)
	}
	return ParsePlugins(data)
}

func ParsePlugins(data []byte) (Plugins, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse plugin manifest: %w", err)
	}
	if len(m.Plugins) == 0 {
		return nil, fmt.Errorf("plugin manifest contains no plugins")
	}
	seen := make(map[string]bool)
	for _, p := range m.Plugins {
		if err := p.validate(); err != nil {
			return nil, err
		}
		slug := strings.ToLower(p.Slug())
		if seen[slug] {
			return nil, fmt.Errorf("plugin %s defined multiple times", slug)
		}
		seen[slug] = true
	}
	return m.Plugins, nil
}
