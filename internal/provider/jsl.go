package provider

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/config"
	"github.com/sells-group/cbdata/internal/fetcher"
	"github.com/sells-group/cbdata/internal/model"
)

// JSLBase is the jisilu host.
const JSLBase = "https://www.jisilu.cn"

const jslListPath = "/data/cbnew/cb_list_new/"

// anonymousRowLimit is the row count jisilu returns to sessions without a
// login cookie.
const anonymousRowLimit = 30

// JSL serves the full cross-sectional convertible bond snapshot.
type JSL struct {
	f       fetcher.Fetcher
	base    string
	cookie  string
	nowFunc func() time.Time
}

// NewJSL creates the jisilu provider.
func NewJSL(f fetcher.Fetcher, baseURL, cookie string) *JSL {
	if baseURL == "" {
		baseURL = JSLBase
	}
	return &JSL{
		f:       f,
		base:    strings.TrimRight(baseURL, "/"),
		cookie:  cookie,
		nowFunc: time.Now,
	}
}

// LoadCookie returns the configured session cookie. An inline cookie wins
// over the cookie file; a missing file yields "".
func LoadCookie(cfg config.JSLConfig) string {
	if c := strings.TrimSpace(cfg.Cookie); c != "" {
		return c
	}
	if cfg.CookieFile == "" {
		return ""
	}
	data, err := os.ReadFile(cfg.CookieFile)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.L().Warn("failed to read jsl cookie file",
				zap.String("component", "provider"),
				zap.String("path", cfg.CookieFile),
				zap.Error(err),
			)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ID implements Provider.
func (j *JSL) ID() string { return "jsl" }

// Capability implements Provider.
func (j *JSL) Capability() Capability {
	return Capability{
		Datasets:        []Dataset{DatasetSnapshot},
		SupportsTimeout: true,
	}
}

// Fetch implements Provider.
func (j *JSL) Fetch(ctx context.Context, req Request) (*model.Raw, error) {
	if req.Dataset != DatasetSnapshot {
		return nil, eris.Errorf("jsl: unsupported dataset %s", req.Dataset)
	}

	params := url.Values{"___jsl": {"LST___t=" + strconv.FormatInt(j.nowFunc().UnixMilli(), 10)}}
	header := http.Header{
		"Referer":          {j.base + "/data/cbnew/"},
		"X-Requested-With": {"XMLHttpRequest"},
	}
	if j.cookie != "" {
		header.Set("Cookie", j.cookie)
	}

	body, err := j.f.Get(ctx, j.base+jslListPath, params, header)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, eris.New("jsl: invalid snapshot json")
	}
	rows := gjson.GetBytes(body, "rows")
	if !rows.Exists() {
		return nil, eris.Errorf("jsl: snapshot payload has no rows: %s", gjson.GetBytes(body, "msg").String())
	}

	cells := gjson.Parse("[]")
	var parts []string
	rows.ForEach(func(_, row gjson.Result) bool {
		if c := row.Get("cell"); c.IsObject() {
			parts = append(parts, c.Raw)
		}
		return true
	})
	if len(parts) > 0 {
		cells = gjson.Parse("[" + strings.Join(parts, ",") + "]")
	}
	raw := objectsTable(cells)

	if j.cookie == "" && raw.Len() <= anonymousRowLimit {
		zap.L().Warn("jsl snapshot fetched without cookie; result is truncated",
			zap.String("component", "provider"),
			zap.Int("rows", raw.Len()),
		)
	}
	return raw, nil
}
