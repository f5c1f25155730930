package webui

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/sarchlab/sqlprof/config"
	"github.com/sarchlab/sqlprof/profiling"
)

var includesTemplate = template.Must(template.New("includes").Parse(
	`<link rel="stylesheet" type="text/css" href="{{.Path}}includes.css?v={{.Version}}">
<script type="text/javascript" src="{{.Path}}includes.js?v={{.Version}}"></script>
<script type="text/javascript">
SqlProf.init({
	ids: {{.IDs}},
	path: {{.Path}},
	version: {{.Version}},
	renderPosition: {{.Position}},
	showTrivial: {{.ShowTrivial}},
	showChildrenTime: {{.ShowChildren}},
	maxTracesToShow: {{.MaxTracesToShow}},
	trivialMilliseconds: {{.TrivialMilliseconds}}
});
</script>
`))

// IncludeOption overrides a display setting for a single page.
type IncludeOption func(o *includeOptions)

type includeOptions struct {
	Path                string
	Version             string
	IDs                 []string
	Position            config.RenderPosition
	ShowTrivial         bool
	ShowChildren        bool
	MaxTracesToShow     int
	TrivialMilliseconds float64
}

// WithPosition overrides the corner the popup is shown in.
func WithPosition(p config.RenderPosition) IncludeOption {
	return func(o *includeOptions) {
		o.Position = p
	}
}

// WithShowTrivial overrides whether trivial timings are shown.
func WithShowTrivial(show bool) IncludeOption {
	return func(o *includeOptions) {
		o.ShowTrivial = show
	}
}

// WithShowTimeWithChildren overrides whether timings include the time of the
// timings nested in them.
func WithShowTimeWithChildren(show bool) IncludeOption {
	return func(o *includeOptions) {
		o.ShowChildren = show
	}
}

// WithMaxTracesToShow overrides how many sessions the popup lists.
func WithMaxTracesToShow(n int) IncludeOption {
	return func(o *includeOptions) {
		o.MaxTracesToShow = n
	}
}

// RenderIncludes returns the HTML that loads the results popup into a page.
// The popup lists the sessions of the user of p that have not been viewed
// yet, p included. A nil session renders nothing.
func (h *Handler) RenderIncludes(
	ctx context.Context,
	p *profiling.Profiler,
	opts ...IncludeOption,
) (template.HTML, error) {
	if p == nil {
		return "", nil
	}

	unviewed, err := h.store.UnviewedIDs(ctx, p.User)
	if err != nil {
		return "", fmt.Errorf("listing unviewed sessions: %w", err)
	}

	o := includeOptions{
		Path:                h.settings.RouteBasePath,
		Version:             h.settings.Version,
		IDs:                 make([]string, 0, len(unviewed)+1),
		Position:            h.settings.PopupRenderPosition,
		ShowTrivial:         h.settings.ShowTrivial,
		ShowChildren:        h.settings.ShowTimeWithChildren,
		MaxTracesToShow:     h.settings.MaxTracesToShow,
		TrivialMilliseconds: h.settings.TrivialMilliseconds,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	current := false
	for _, id := range unviewed {
		current = current || id == p.ID
		o.IDs = append(o.IDs, id.String())
	}

	if !current {
		o.IDs = append(o.IDs, p.ID.String())
	}

	var buf bytes.Buffer
	if err := includesTemplate.Execute(&buf, o); err != nil {
		return "", fmt.Errorf("rendering includes: %w", err)
	}

	//nolint:gosec
	return template.HTML(buf.String()), nil
}
