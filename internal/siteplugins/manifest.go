// Package siteplugins registers handlers declared in a YAML addon manifest
// into the delegates, so sites can extend the client without code.
package siteplugins

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/coredelegate/internal/contentlinks"
	"github.com/user/coredelegate/internal/course"
	"github.com/user/coredelegate/internal/delegate"
	"github.com/user/coredelegate/internal/fileuploader"
	"github.com/user/coredelegate/internal/question"
	"github.com/user/coredelegate/internal/types"
)

// Addon fields shared by every declared handler.
type Addon struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	// MinVersion is the lowest site version the handler works with.
	MinVersion string `yaml:"min_version"`
}

type ModuleSpec struct {
	Addon    `yaml:",inline"`
	ModName  string `yaml:"modname"`
	Icon     string `yaml:"icon"`
	Route    string `yaml:"route"`
	Download *bool  `yaml:"download"`
}

type BlockSpec struct {
	Addon     `yaml:",inline"`
	Block     string `yaml:"block"`
	Title     string `yaml:"title"`
	Component string `yaml:"component"`
}

type QTypeSpec struct {
	Addon     `yaml:",inline"`
	QType     string `yaml:"qtype"`
	Component string `yaml:"component"`
	// Answer fields that must be filled for a complete response.
	Required []string `yaml:"required"`
}

type PickerSpec struct {
	Addon     `yaml:",inline"`
	Title     string   `yaml:"title"`
	Icon      string   `yaml:"icon"`
	Mimetypes []string `yaml:"mimetypes"`
}

// Manifest is an addon manifest file.
type Manifest struct {
	Links   []contentlinks.LinkSpec `yaml:"links"`
	Modules []ModuleSpec            `yaml:"modules"`
	Blocks  []BlockSpec             `yaml:"blocks"`
	QTypes  []QTypeSpec             `yaml:"qtypes"`
	Pickers []PickerSpec            `yaml:"pickers"`
}

func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse addon manifest: %w", err)
	}
	return &m, nil
}

// Load reads the manifest at path. A missing file is an empty manifest.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read addon manifest: %w", err)
	}
	return Parse(data)
}

// Targets are the delegates a manifest registers into. Nil targets are
// skipped.
type Targets struct {
	Sites      types.SiteProvider
	Navigator  types.Navigator
	Links      *contentlinks.Delegate
	Modules    *course.ModuleDelegate
	Blocks     *course.BlockDelegate
	Questions  *question.Delegate
	FilePicker *fileuploader.Delegate
}

// Apply registers every handler of m and returns how many were registered.
func Apply(m *Manifest, t Targets) (int, error) {
	n := 0
	if t.Links != nil && len(m.Links) > 0 {
		hs, err := contentlinks.BuildHandlers(m.Links, t.Navigator)
		if err != nil {
			return n, err
		}
		for _, h := range hs {
			if err := t.Links.Register(h); err != nil {
				return n, err
			}
			n++
		}
	}
	if t.Modules != nil {
		for _, s := range m.Modules {
			if s.ModName == "" {
				return n, fmt.Errorf("module addon %s: empty modname", s.Name)
			}
			if err := t.Modules.Register(&moduleHandler{base: newBase(s.Addon, t.Sites), spec: s}); err != nil {
				return n, fmt.Errorf("module addon %s: %w", s.Name, err)
			}
			n++
		}
	}
	if t.Blocks != nil {
		for _, s := range m.Blocks {
			if err := t.Blocks.Register(&blockHandler{base: newBase(s.Addon, t.Sites), spec: s}); err != nil {
				return n, fmt.Errorf("block addon %s: %w", s.Name, err)
			}
			n++
		}
	}
	if t.Questions != nil {
		for _, s := range m.QTypes {
			if err := t.Questions.Register(&qtypeHandler{base: newBase(s.Addon, t.Sites), spec: s}); err != nil {
				return n, fmt.Errorf("qtype addon %s: %w", s.Name, err)
			}
			n++
		}
	}
	if t.FilePicker != nil {
		for _, s := range m.Pickers {
			if err := t.FilePicker.Register(&pickerHandler{base: newBase(s.Addon, t.Sites), spec: s}); err != nil {
				return n, fmt.Errorf("picker addon %s: %w", s.Name, err)
			}
			n++
		}
	}
	return n, nil
}

// base implements the delegate.Handler side of every addon handler: it is
// enabled when the current site is recent enough.
type base struct {
	addon Addon
	sites types.SiteProvider
}

func newBase(a Addon, sites types.SiteProvider) base {
	return base{addon: a, sites: sites}
}

func (b base) Name() string  { return b.addon.Name }
func (b base) Priority() int { return b.addon.Priority }

func (b base) IsEnabled(context.Context) (bool, error) {
	if b.addon.MinVersion == "" || b.sites == nil {
		return true, nil
	}
	site, ok := b.sites.Site(b.sites.CurrentSiteID())
	if !ok {
		return false, nil
	}
	return CompareVersions(site.Version, b.addon.MinVersion) >= 0, nil
}

// CompareVersions compares dotted numeric versions ("4.1", "3.11.2+").
// Anything after the first space, such as " (Build: 20230424)", is ignored.
// Each part counts by its leading digits, so "4.1+" equals "4.1"; missing
// parts count as zero.
func CompareVersions(a, b string) int {
	pa, pb := versionParts(a), versionParts(b)
	for i := 0; i < max(len(pa), len(pb)); i++ {
		if c := cmp.Compare(part(pa, i), part(pb, i)); c != 0 {
			return c
		}
	}
	return 0
}

func versionParts(v string) []string {
	v, _, _ = strings.Cut(strings.TrimSpace(v), " ")
	return strings.Split(v, ".")
}

func part(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	p := parts[i]
	end := strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' })
	if end >= 0 {
		p = p[:end]
	}
	n, _ := strconv.Atoi(p)
	return n
}

type moduleHandler struct {
	base
	spec ModuleSpec
}

func (h *moduleHandler) TypeKey() string { return h.spec.ModName }

func (h *moduleHandler) GetData(_ context.Context, m *course.Module, courseID, _ int64) (course.ModuleData, error) {
	route := strings.NewReplacer(
		"{courseId}", strconv.FormatInt(courseID, 10),
		"{moduleId}", strconv.FormatInt(m.ID, 10),
	).Replace(h.spec.Route)
	return course.ModuleData{
		Title:              m.Name,
		Icon:               h.spec.Icon,
		Class:              "addon-mod-" + h.spec.ModName + "-handler",
		Route:              route,
		ShowDownloadButton: h.spec.Download,
	}, nil
}

type blockHandler struct {
	base
	spec BlockSpec
}

func (h *blockHandler) TypeKey() string { return h.spec.Block }

func (h *blockHandler) GetDisplayData(_ context.Context, b *course.Block, _ string, _ int64) (delegate.Result[course.BlockData], error) {
	title := h.spec.Title
	if title == "" && b.Contents != nil {
		title = b.Contents.Title
	}
	return delegate.Data(course.BlockData{
		Block:     b.Name,
		Title:     title,
		Class:     "block_" + b.Name,
		Component: h.spec.Component,
	}), nil
}

type qtypeHandler struct {
	base
	spec QTypeSpec
}

func (h *qtypeHandler) TypeKey() string { return "qtype_" + h.spec.QType }

func (h *qtypeHandler) Component(context.Context, *question.Question) (string, error) {
	return h.spec.Component, nil
}

func (h *qtypeHandler) IsCompleteResponse(_ *question.Question, answers question.Answers, _ string, _ int64) int {
	if len(h.spec.Required) == 0 {
		return question.ResponseUnknown
	}
	for _, f := range h.spec.Required {
		if answers[f] == "" {
			return question.ResponseIncomplete
		}
	}
	return question.ResponseComplete
}

type pickerHandler struct {
	base
	spec PickerSpec
}

func (h *pickerHandler) GetData(context.Context) (fileuploader.PickerData, error) {
	return fileuploader.PickerData{Title: h.spec.Title, Icon: h.spec.Icon}, nil
}

func (h *pickerHandler) SupportedMimetypes(mimetypes []string) []string {
	if len(h.spec.Mimetypes) == 0 {
		return mimetypes
	}
	return fileuploader.FilterMimetypes(mimetypes, h.spec.Mimetypes...)
}
