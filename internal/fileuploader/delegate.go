// Package fileuploader collects the file pickers (camera, album, file
// browser...) offered when the user uploads a file.
package fileuploader

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/user/coredelegate/internal/delegate"
	"github.com/user/coredelegate/internal/types"
)

// PickerData describes how a picker appears in the upload menu.
type PickerData struct {
	Title string `json:"title"`
	Class string `json:"class,omitempty"`
	Icon  string `json:"icon"`
	// Mimetypes the picker accepts among the requested ones. Nil means any.
	Mimetypes []string `json:"mimetypes,omitempty"`
	Priority  int      `json:"priority"`
}

// Handler is a file picker.
type Handler interface {
	delegate.Handler
	GetData(ctx context.Context) (PickerData, error)
}

// MimetypeFilter is implemented by pickers that only return some types.
// It returns the subset of mimetypes the picker supports.
type MimetypeFilter interface {
	SupportedMimetypes(mimetypes []string) []string
}

type Delegate struct {
	reg *delegate.Registry[Handler]
}

func NewDelegate(sites types.SiteProvider, logger *slog.Logger) *Delegate {
	return &Delegate{reg: delegate.New[Handler](delegate.Options{
		Name:          "CoreFileUploaderDelegate",
		FeaturePrefix: "CoreFileUploaderDelegate_",
		Sites:         sites,
		Logger:        logger,
	})}
}

func (d *Delegate) Register(h Handler) error {
	return d.reg.Register(h)
}

func (d *Delegate) Registry() *delegate.Registry[Handler] {
	return d.reg
}

func (d *Delegate) UpdateHandlers(ctx context.Context) error {
	return d.reg.UpdateHandlers(ctx)
}

// GetHandlers returns the pickers able to provide one of mimetypes,
// highest priority first. A nil mimetypes accepts every picker.
func (d *Delegate) GetHandlers(ctx context.Context, mimetypes []string) []PickerData {
	entries := delegate.CollectAll(ctx, d.reg, func(ctx context.Context, h Handler) (delegate.Result[PickerData], error) {
		var supported []string
		if mimetypes != nil {
			f, ok := h.(MimetypeFilter)
			if !ok {
				return delegate.NotApplicable[PickerData](), nil
			}
			supported = f.SupportedMimetypes(mimetypes)
			if len(supported) == 0 {
				return delegate.NotApplicable[PickerData](), nil
			}
		}
		data, err := h.GetData(ctx)
		if err != nil {
			return delegate.NotApplicable[PickerData](), err
		}
		data.Mimetypes = supported
		return delegate.Data(data), nil
	})

	out := make([]PickerData, len(entries))
	for i, e := range entries {
		e.Data.Priority = e.Priority
		out[i] = e.Data
	}
	return out
}

// FilterMimetypes returns the entries of mimetypes matching one of the
// patterns. Patterns may end in "/*" to match a whole family.
func FilterMimetypes(mimetypes []string, patterns ...string) []string {
	var out []string
	for _, m := range mimetypes {
		for _, p := range patterns {
			if ok, _ := path.Match(p, strings.ToLower(m)); ok {
				out = append(out, m)
				break
			}
		}
	}
	return out
}
