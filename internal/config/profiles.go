package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoProfiles      = errors.New("config: no profiles defined")
	ErrProfileNotFound = errors.New("config: profile not found")
)

// Profile describes one customer accounting database.
type Profile struct {
	Label            string `yaml:"label" json:"label"`
	Host             string `yaml:"host" json:"host"`
	Port             int    `yaml:"port" json:"port"`
	Database         string `yaml:"database" json:"database"`
	User             string `yaml:"user" json:"user"`
	Password         string `yaml:"password" json:"-"`
	Charset          string `yaml:"charset" json:"charset"`
	LocationID       *int64 `yaml:"location_id" json:"location_id,omitempty"`
	StorageID        *int64 `yaml:"storage_id" json:"storage_id,omitempty"`
	OperationDocType *int64 `yaml:"operation_doc_type" json:"operation_doc_type,omitempty"`
}

// DSN renders the profile as a firebirdsql connection string.
func (p Profile) DSN() string {
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == 0 {
		port = 3050
	}
	user := p.User
	if user == "" {
		user = "SYSDBA"
	}
	charset := p.Charset
	if charset == "" {
		charset = "WIN1251"
	}
	db := strings.TrimPrefix(strings.ReplaceAll(p.Database, `\`, "/"), "/")
	return fmt.Sprintf("%s:%s@%s/%s?charset=%s",
		url.PathEscape(user), url.PathEscape(p.Password),
		net.JoinHostPort(host, strconv.Itoa(port)), db, url.QueryEscape(charset))
}

// Profiles is the parsed profiles file keyed by label.
type Profiles map[string]Profile

// LoadProfiles reads a JSON or YAML profiles file. The document may be a
// mapping label → profile or a list of profiles carrying their own label.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles parses the profiles document. JSON is accepted as YAML.
func ParseProfiles(data []byte) (Profiles, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("config: parse profiles: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, ErrNoProfiles
	}
	doc := root.Content[0]
	out := Profiles{}
	switch doc.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key := doc.Content[i].Value
			var p Profile
			if err := doc.Content[i+1].Decode(&p); err != nil {
				continue
			}
			if p.Label == "" {
				p.Label = key
			}
			out[key] = p
		}
	case yaml.SequenceNode:
		for i, item := range doc.Content {
			var p Profile
			if err := item.Decode(&p); err != nil {
				continue
			}
			if p.Label == "" {
				p.Label = labelFromNode(item)
			}
			if p.Label == "" {
				p.Label = fmt.Sprintf("Профил %d", i+1)
			}
			out[p.Label] = p
		}
	default:
		return nil, fmt.Errorf("config: profiles must be a mapping or a list")
	}
	if len(out) == 0 {
		return nil, ErrNoProfiles
	}
	return out, nil
}

func labelFromNode(n *yaml.Node) string {
	var raw map[string]any
	if err := n.Decode(&raw); err != nil {
		return ""
	}
	for _, k := range []string{"name", "client", "profile", "profile_name"} {
		if v, ok := raw[k]; ok {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// Get returns the named profile. An empty name selects the only profile
// when exactly one is defined.
func (ps Profiles) Get(name string) (Profile, error) {
	if name == "" {
		if len(ps) == 1 {
			for _, p := range ps {
				return p, nil
			}
		}
		return Profile{}, fmt.Errorf("%w: choose one of %s", ErrProfileNotFound, strings.Join(ps.Labels(), ", "))
	}
	p, ok := ps[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return p, nil
}

// Labels returns the profile labels sorted.
func (ps Profiles) Labels() []string {
	out := make([]string, 0, len(ps))
	for k := range ps {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
