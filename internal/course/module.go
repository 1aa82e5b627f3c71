// Package course holds the delegates that render course contents: one
// handler per activity module type and one per block type.
package course

import (
	"context"
	"errors"
	"log/slog"

	"github.com/user/coredelegate/internal/delegate"
	"github.com/user/coredelegate/internal/types"
)

const (
	ModuleFeaturePrefix = "CoreCourseModuleDelegate_"
	BlockFeaturePrefix  = "CoreBlockDelegate_"
)

// ErrNotSupported is returned when no enabled handler can act on a module.
var ErrNotSupported = errors.New("module not supported")

// Module is an activity or resource of a course.
type Module struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ModName   string `json:"modname"`
	URL       string `json:"url,omitempty"`
	Visible   bool   `json:"visible"`
	SectionID int64  `json:"section"`
}

type ModuleButton struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
	Route string `json:"route,omitempty"`
}

// ModuleData is what a handler renders for a module in the course page.
type ModuleData struct {
	Title      string         `json:"title"`
	Icon       string         `json:"icon,omitempty"`
	Class      string         `json:"class,omitempty"`
	ExtraBadge string         `json:"extra_badge,omitempty"`
	Route      string         `json:"route,omitempty"`
	Buttons    []ModuleButton `json:"buttons,omitempty"`
	// ShowDownloadButton is nil when the handler has no opinion.
	ShowDownloadButton *bool `json:"show_download_button,omitempty"`
	Unsupported        bool  `json:"unsupported,omitempty"`
}

// DownloadButton reports whether the download button is shown.
func (d ModuleData) DownloadButton() bool {
	return d.ShowDownloadButton == nil || *d.ShowDownloadButton
}

// ModuleHandler renders one module type. TypeKey returns the module name
// (modname) it handles.
type ModuleHandler interface {
	delegate.Handler
	delegate.Keyed
	GetData(ctx context.Context, module *Module, courseID, sectionID int64) (ModuleData, error)
}

// ActivityOpener is implemented by handlers with their own activity page.
type ActivityOpener interface {
	OpenActivityPage(ctx context.Context, module *Module, courseID int64) error
}

// FeatureSupporter answers feature queries such as "groups" or "grade".
type FeatureSupporter interface {
	SupportsFeature(feature string) (any, bool)
}

// ModuleDelegate dispatches module rendering to the registered handlers.
type ModuleDelegate struct {
	reg   *delegate.Registry[ModuleHandler]
	sites types.SiteProvider
}

func NewModuleDelegate(sites types.SiteProvider, logger *slog.Logger) *ModuleDelegate {
	reg := delegate.New[ModuleHandler](delegate.Options{
		Name:          "CoreCourseModuleDelegate",
		FeaturePrefix: ModuleFeaturePrefix,
		Sites:         sites,
		Logger:        logger,
	})
	reg.SetDefault(unsupportedModule{})
	return &ModuleDelegate{reg: reg, sites: sites}
}

func (d *ModuleDelegate) Register(h ModuleHandler) error {
	return d.reg.Register(h)
}

func (d *ModuleDelegate) Registry() *delegate.Registry[ModuleHandler] {
	return d.reg
}

func (d *ModuleDelegate) UpdateHandlers(ctx context.Context) error {
	return d.reg.UpdateHandlers(ctx)
}

// GetModuleDataFor renders module with the handler for modname. Modules
// without an enabled handler get the "unsupported" rendering.
func (d *ModuleDelegate) GetModuleDataFor(ctx context.Context, modname string, module *Module, courseID, sectionID int64) delegate.Result[ModuleData] {
	res := delegate.Execute(ctx, d.reg, modname, func(ctx context.Context, h ModuleHandler) (delegate.Result[ModuleData], error) {
		data, err := h.GetData(ctx, module, courseID, sectionID)
		if err != nil {
			return delegate.NotApplicable[ModuleData](), err
		}
		return delegate.Data(data), nil
	})
	data, ok := res.Value()
	if !ok {
		return res
	}
	if data.ShowDownloadButton == nil {
		show := true
		data.ShowDownloadButton = &show
	}
	return delegate.Data(data)
}

// OpenActivityPage opens the module's activity page through its handler.
func (d *ModuleDelegate) OpenActivityPage(ctx context.Context, modname string, module *Module, courseID int64) error {
	h, ok := d.reg.GetHandler(ctx, modname)
	if !ok {
		return ErrNotSupported
	}
	opener, ok := h.(ActivityOpener)
	if !ok {
		return ErrNotSupported
	}
	return opener.OpenActivityPage(ctx, module, courseID)
}

// IsModuleDisabled reports whether the site disables the handler for
// modname. An empty siteID means the current site. A module type nobody
// handles is not disabled.
func (d *ModuleDelegate) IsModuleDisabled(modname string, siteID types.SiteID) bool {
	hs := d.reg.HandlersFor(modname)
	if len(hs) == 0 {
		return false
	}
	if d.sites == nil {
		return true
	}
	if siteID == "" {
		siteID = d.sites.CurrentSiteID()
	}
	if siteID == "" {
		return true
	}
	return d.sites.IsFeatureDisabled(siteID, ModuleFeaturePrefix+hs[0].Name())
}

// SupportsFeature returns the handler's answer for feature, or def.
func (d *ModuleDelegate) SupportsFeature(ctx context.Context, modname, feature string, def any) any {
	h, ok := d.reg.GetHandler(ctx, modname)
	if !ok {
		return def
	}
	fs, ok := h.(FeatureSupporter)
	if !ok {
		return def
	}
	if v, ok := fs.SupportsFeature(feature); ok && v != nil {
		return v
	}
	return def
}

// ModuleHandlerBase is embedded by module handlers.
type ModuleHandlerBase struct {
	HandlerName string
	Mod         string
	Prio        int
}

func (b *ModuleHandlerBase) Name() string    { return b.HandlerName }
func (b *ModuleHandlerBase) TypeKey() string { return b.Mod }
func (b *ModuleHandlerBase) Priority() int   { return b.Prio }

func (b *ModuleHandlerBase) IsEnabled(context.Context) (bool, error) {
	return true, nil
}

// unsupportedModule renders modules no handler supports.
type unsupportedModule struct{}

func (unsupportedModule) Name() string    { return "CoreCourseModuleDefaultHandler" }
func (unsupportedModule) TypeKey() string { return "default" }

func (unsupportedModule) IsEnabled(context.Context) (bool, error) {
	return true, nil
}

func (unsupportedModule) GetData(_ context.Context, module *Module, _, _ int64) (ModuleData, error) {
	data := ModuleData{
		Title:       module.Name,
		Class:       "core-course-default-handler core-course-module-" + module.ModName,
		Route:       "course/unsupported-module",
		Unsupported: true,
	}
	if module.URL != "" {
		data.Buttons = []ModuleButton{{Label: "core.openinbrowser", Icon: "open", Route: module.URL}}
	}
	return data, nil
}
