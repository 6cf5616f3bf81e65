package chart

import (
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/leapstack-labs/vulndash/internal/datasource"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// DefaultDetachedPath is where standalone charts are served.
const DefaultDetachedPath = "/chart"

// Source is the part of a data source a controller uses.
type Source interface {
	SendRequest(r datasource.Requester, filter core.Filter, params core.GenParams, opts datasource.RequestOptions)
	RemoveRequest(r datasource.Requester, filter core.Filter)
	Name() string
	Command() string
	Params() url.Values
}

// ControllerConfig wires a controller.
type ControllerConfig struct {
	// Name is the chart name, unique within a registry.
	Name      string
	Label     string
	Source    Source
	Generator Generator
	Display   Display
	// InitParams are the chart's default generation params.
	InitParams   core.GenParams
	DetachedPath string
	// DrillDownURL is the link target of a drawn record. "{type}" is
	// replaced by the source's resource type and "{filter}" by the
	// escaped narrowed filter term. Empty links to the detached chart.
	DrillDownURL string
	// OnDrawFailed is called when delivered data cannot be drawn. The
	// display keeps what it showed before.
	OnDrawFailed func(err error)
	Logger       *slog.Logger
}

// Controller binds one source, one generator and one display.
type Controller struct {
	name         string
	label        string
	source       Source
	generator    Generator
	display      Display
	initParams   core.GenParams
	detachedPath string
	drillDownURL string
	onDrawFailed func(err error)
	logger       *slog.Logger

	mu         sync.Mutex
	filter     core.Filter
	params     core.GenParams
	lastData   *core.Data
	lastParams core.GenParams
	hasLast    bool
}

var _ datasource.Requester = (*Controller)(nil)

// NewController creates a controller.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DetachedPath == "" {
		cfg.DetachedPath = DefaultDetachedPath
	}
	if cfg.Label == "" {
		cfg.Label = cfg.Name
	}
	return &Controller{
		name:         cfg.Name,
		label:        cfg.Label,
		source:       cfg.Source,
		generator:    cfg.Generator,
		display:      cfg.Display,
		initParams:   cfg.InitParams.Clone(),
		detachedPath: cfg.DetachedPath,
		drillDownURL: cfg.DrillDownURL,
		onDrawFailed: cfg.OnDrawFailed,
		logger:       logger.With("chart", cfg.Name),
	}
}

func (c *Controller) Name() string  { return c.name }
func (c *Controller) Label() string { return c.label }

// DisplayID identifies the display so a new request supersedes the
// previous one drawn there.
func (c *Controller) DisplayID() string { return c.display.ID() }

func (c *Controller) Generator() Generator { return c.generator }
func (c *Controller) Display() Display     { return c.display }

// Filter returns the filter of the latest request.
func (c *Controller) Filter() core.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// SendRequest shows the loading title and asks the source for data. The
// params are merged over the chart's init params.
func (c *Controller) SendRequest(filter core.Filter, params core.GenParams, opts datasource.RequestOptions) {
	merged := MergeParams(c.initParams, params)

	c.mu.Lock()
	c.filter = filter
	c.params = merged
	c.mu.Unlock()

	c.display.SetTitle(c.generator.Title(nil, filter))
	c.display.ShowLoading()

	// The source may answer from its cache before returning.
	c.source.SendRequest(c, filter, merged, opts)
}

// DataLoaded draws freshly delivered data. Data for a filter other than
// the latest requested one arrived late and is dropped.
func (c *Controller) DataLoaded(filter core.Filter, data *core.Data, params core.GenParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if filter.Key() != c.filter.Key() {
		c.logger.Debug("dropped stale data", "filter", filter.Key(), "current", c.filter.Key())
		return
	}
	c.display.HideLoading()
	c.drawLocked(data, params)
}

func (c *Controller) drawLocked(data *core.Data, params core.GenParams) {
	generated, err := c.generator.GenerateData(data, params)
	if err != nil {
		c.logger.Warn("could not generate chart data", "error", err)
		c.drawFailedLocked(err)
		return
	}

	rc := RenderContext{Filter: c.filter, DrillDown: c.drillDownLocked}
	c.display.SetTitle(c.generator.Title(generated, rc.Filter))
	if c.generator.MustUpdate(c.display) {
		c.display.Clear()
	}
	if err := c.generator.Render(c.display, generated, params, rc); err != nil {
		c.logger.Error("could not draw chart", "error", err)
		c.display.ShowError("Could not draw chart")
		c.drawFailedLocked(err)
		return
	}
	c.display.SetLastGenerator(c.generator)

	c.lastData = data
	c.lastParams = params
	c.hasLast = true

	for _, kind := range c.generator.SupportedExports() {
		if _, err := c.generator.Export(kind, c.display, generated, params, rc); err != nil {
			c.logger.Debug("export skipped", "kind", kind, "error", err)
		}
	}
	c.display.SetMenuItems(c.menuItemsLocked())
}

func (c *Controller) drawFailedLocked(err error) {
	if c.onDrawFailed != nil {
		c.onDrawFailed(err)
	}
}

// ShowError replaces the chart with an error message unless the failed
// request has been superseded.
func (c *Controller) ShowError(filter core.Filter, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if filter.Key() != c.filter.Key() {
		c.logger.Debug("dropped stale error", "filter", filter.Key(), "error", msg)
		return
	}
	c.display.HideLoading()
	c.display.ShowError(msg)
}

// Redraw draws the last successful data again, e.g. after a resize.
func (c *Controller) Redraw() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLast {
		return
	}
	c.drawLocked(c.lastData, c.lastParams)
}

// Cancel withdraws the pending request, if any.
func (c *Controller) Cancel() {
	c.source.RemoveRequest(c, c.Filter())
}

// Close cancels the request and revokes all exports.
func (c *Controller) Close() {
	c.Cancel()
	c.generator.Close()
}

// MenuItems returns the detached chart link followed by export links.
func (c *Controller) MenuItems() []MenuItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.menuItemsLocked()
}

func (c *Controller) menuItemsLocked() []MenuItem {
	items := []MenuItem{{Label: "Show detached chart window", URL: c.detachedURLLocked(c.filter)}}
	return append(items, c.generator.ExportItems()...)
}

// DetachedURL returns a URL that rebuilds this chart outside the
// dashboard for filter.
func (c *Controller) DetachedURL(filter core.Filter) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detachedURLLocked(filter)
}

func (c *Controller) detachedURLLocked(filter core.Filter) string {
	params := c.params
	if c.hasLast {
		params = c.lastParams
	}
	if params.XField == "" && len(params.YFields) == 0 && len(params.Extra) == 0 {
		params = c.initParams
	}

	v := c.source.Params()
	v.Set("chart", c.name)
	v.Set("cmd", c.source.Command())
	if filter.ID != "" {
		v.Set("filt_id", filter.ID)
	}
	if filter.Term != "" {
		v.Set("filter", filter.Term)
	}
	EncodeParams(v, params)
	return c.detachedPath + "?" + v.Encode()
}

func (c *Controller) drillDownLocked(term string) string {
	if c.drillDownURL == "" {
		return c.detachedURLLocked(core.Filter{Term: term})
	}
	return strings.NewReplacer(
		"{type}", url.QueryEscape(c.resourceType()),
		"{filter}", url.QueryEscape(term),
	).Replace(c.drillDownURL)
}

// resourceType names what the source lists, e.g. "nvt" or "task".
func (c *Controller) resourceType() string {
	if t := c.source.Params().Get("aggregate_type"); t != "" {
		return t
	}
	return strings.TrimSuffix(strings.TrimPrefix(c.source.Command(), "get_"), "s")
}

// EncodeParams writes generation params as query parameters. Every extra
// entry becomes its own parameter.
func EncodeParams(v url.Values, p core.GenParams) {
	if p.ChartTemplate != "" {
		v.Set("chart_template", p.ChartTemplate)
	}
	if p.XField != "" {
		v.Set("x_field", p.XField)
	}
	for i, f := range p.YFields {
		v.Set("y_fields:"+strconv.Itoa(i), f)
	}
	for i, f := range p.ZFields {
		v.Set("z_fields:"+strconv.Itoa(i), f)
	}
	for k, val := range p.Extra {
		v.Set(k, val)
	}
}

// reservedParams are query keys that never land in GenParams.Extra.
var reservedParams = []string{"chart", "cmd", "filter", "filt_id", "token", "chart_template", "x_field"}

// DecodeParams is the inverse of EncodeParams. Keys in skip, such as the
// source's own query parameters, are ignored.
func DecodeParams(v url.Values, skip url.Values) core.GenParams {
	p := core.GenParams{
		ChartTemplate: v.Get("chart_template"),
		XField:        v.Get("x_field"),
		YFields:       indexed(v, "y_fields"),
		ZFields:       indexed(v, "z_fields"),
	}
	for k := range v {
		if slices.Contains(reservedParams, k) || skip.Has(k) || isIndexed(k, "y_fields") || isIndexed(k, "z_fields") {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]string)
		}
		p.Extra[k] = v.Get(k)
	}
	return p
}

func indexed(v url.Values, prefix string) []string {
	var out []string
	for i := 0; ; i++ {
		key := prefix + ":" + strconv.Itoa(i)
		if !v.Has(key) {
			return out
		}
		out = append(out, v.Get(key))
	}
}

func isIndexed(key, prefix string) bool {
	rest, ok := strings.CutPrefix(key, prefix+":")
	if !ok {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// MergeParams lays override over base. Empty override fields keep the
// base value; extra maps are merged key by key.
func MergeParams(base, override core.GenParams) core.GenParams {
	out := base.Clone()
	if override.XField != "" {
		out.XField = override.XField
	}
	if len(override.YFields) > 0 {
		out.YFields = slices.Clone(override.YFields)
	}
	if len(override.ZFields) > 0 {
		out.ZFields = slices.Clone(override.ZFields)
	}
	if override.ChartTemplate != "" {
		out.ChartTemplate = override.ChartTemplate
	}
	if len(override.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]string, len(override.Extra))
		}
		maps.Copy(out.Extra, override.Extra)
	}
	return out
}
