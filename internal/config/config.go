package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"scoreboardAPI/internal/store"
)

// Profile field identifiers a group may require.
const (
	FieldNickname = "nickname"
	FieldTel      = "tel"
	FieldEmail    = "email"
	FieldQQ       = "qq"
	FieldStuID    = "stu_id"
	FieldOrg      = "org"
	FieldComment  = "comment"
)

var knownFields = map[string]bool{
	FieldNickname: true,
	FieldTel:      true,
	FieldEmail:    true,
	FieldQQ:       true,
	FieldStuID:    true,
	FieldOrg:      true,
	FieldComment:  true,
}

type Group struct {
	Name          string   `yaml:"name"`
	Display       string   `yaml:"display"`
	ProfileFields []string `yaml:"profile_fields"`
}

type Board struct {
	Key    string   `yaml:"key" json:"key"`
	Name   string   `yaml:"name" json:"name"`
	Groups []string `yaml:"groups" json:"groups"`
}

type Category struct {
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color" json:"color"`
}

type Config struct {
	Groups        []Group            `yaml:"groups"`
	BannedGroup   string             `yaml:"banned_group"`
	Boards        []Board            `yaml:"boards"`
	Categories    []Category         `yaml:"categories"`
	FallbackColor string             `yaml:"fallback_color"`
	DefaultPolicy store.PolicyParams `yaml:"default_policy"`

	groupByName map[string]*Group
	catIndex    map[string]int
}

// Default mirrors game.yaml shipped at the repository root.
func Default() *Config {
	cfg := &Config{
		Groups: []Group{
			{Name: "internal", Display: "Internal", ProfileFields: []string{FieldNickname, FieldTel, FieldEmail, FieldStuID}},
			{Name: "external", Display: "External", ProfileFields: []string{FieldNickname, FieldTel, FieldEmail}},
			{Name: "staff", Display: "Staff", ProfileFields: []string{FieldNickname}},
			{Name: "banned", Display: "Banned"},
		},
		BannedGroup: "banned",
		Boards: []Board{
			{Key: "score_all", Name: "Overall", Groups: []string{"internal", "external"}},
			{Key: "score_internal", Name: "Internal", Groups: []string{"internal"}},
		},
		Categories: []Category{
			{Name: "Misc", Color: "#7e2d86"},
			{Name: "Web", Color: "#2d8664"},
			{Name: "Binary", Color: "#864a2d"},
			{Name: "Algorithm", Color: "#2f2d86"},
		},
		FallbackColor: "#000000",
		DefaultPolicy: store.PolicyParams{Kind: "flat"},
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read game config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse game config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross references and builds the lookup tables. Parse and
// Default call it; callers building a Config by hand must call it too.
func (c *Config) Validate() error {
	if len(c.Groups) == 0 {
		return fmt.Errorf("config: no groups defined")
	}

	c.groupByName = make(map[string]*Group, len(c.Groups))
	for i := range c.Groups {
		g := &c.Groups[i]
		if g.Name == "" {
			return fmt.Errorf("config: group #%d has no name", i)
		}
		if _, dup := c.groupByName[g.Name]; dup {
			return fmt.Errorf("config: duplicate group %q", g.Name)
		}
		seen := make(map[string]bool, len(g.ProfileFields))
		for _, f := range g.ProfileFields {
			if !knownFields[f] {
				return fmt.Errorf("config: group %q requires unknown profile field %q", g.Name, f)
			}
			if seen[f] {
				return fmt.Errorf("config: group %q lists profile field %q twice", g.Name, f)
			}
			seen[f] = true
		}
		c.groupByName[g.Name] = g
	}

	if c.BannedGroup != "" {
		if _, ok := c.groupByName[c.BannedGroup]; !ok {
			return fmt.Errorf("config: banned_group %q is not a defined group", c.BannedGroup)
		}
	}

	boardKeys := make(map[string]bool, len(c.Boards))
	for _, b := range c.Boards {
		if b.Key == "" {
			return fmt.Errorf("config: board without key")
		}
		if boardKeys[b.Key] {
			return fmt.Errorf("config: duplicate board %q", b.Key)
		}
		boardKeys[b.Key] = true
		if len(b.Groups) == 0 {
			return fmt.Errorf("config: board %q has no groups", b.Key)
		}
		for _, g := range b.Groups {
			if _, ok := c.groupByName[g]; !ok {
				return fmt.Errorf("config: board %q references unknown group %q", b.Key, g)
			}
			if g == c.BannedGroup {
				return fmt.Errorf("config: board %q includes the banned group", b.Key)
			}
		}
	}

	c.catIndex = make(map[string]int, len(c.Categories))
	for i, cat := range c.Categories {
		if _, dup := c.catIndex[cat.Name]; dup {
			return fmt.Errorf("config: duplicate category %q", cat.Name)
		}
		c.catIndex[cat.Name] = i
	}
	if c.FallbackColor == "" {
		c.FallbackColor = "#000000"
	}
	if c.DefaultPolicy.Kind == "" {
		c.DefaultPolicy.Kind = "flat"
	}

	return nil
}

func (c *Config) HasGroup(name string) bool {
	_, ok := c.groupByName[name]
	return ok
}

// RequiredFields returns the profile fields a member of group must fill in.
func (c *Config) RequiredFields(group string) []string {
	if g, ok := c.groupByName[group]; ok {
		return g.ProfileFields
	}
	return nil
}

func (c *Config) GroupDisplay(group string) string {
	if g, ok := c.groupByName[group]; ok && g.Display != "" {
		return g.Display
	}
	return "(" + group + ")"
}

func (c *Config) CategoryColor(name string) string {
	if i, ok := c.catIndex[name]; ok {
		return c.Categories[i].Color
	}
	return c.FallbackColor
}

// CategoryOrder sorts known categories by their configured position and
// unknown ones after them.
func (c *Config) CategoryOrder(name string) int {
	if i, ok := c.catIndex[name]; ok {
		return i
	}
	return len(c.Categories)
}
