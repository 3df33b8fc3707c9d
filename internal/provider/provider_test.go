package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cbdata/internal/config"
	"github.com/sells-group/cbdata/internal/fetcher"
	"github.com/sells-group/cbdata/internal/model"
)

type fakeProvider struct {
	id   string
	cap  Capability
	last Request
	dl   bool
}

func (f *fakeProvider) ID() string             { return f.id }
func (f *fakeProvider) Capability() Capability { return f.cap }
func (f *fakeProvider) Fetch(ctx context.Context, req Request) (*model.Raw, error) {
	f.last = req
	_, f.dl = ctx.Deadline()
	return &model.Raw{Columns: []string{"a"}, Rows: [][]any{{1.0}}}, nil
}

func TestBind_FiltersParamsAndAppliesTimeout(t *testing.T) {
	fp := &fakeProvider{id: "fake", cap: Capability{
		Datasets:        []Dataset{DatasetBondHistory},
		SupportsTimeout: true,
		Params:          []string{ParamSymbol},
	}}
	b := Bind(fp)
	assert.True(t, b.Supports(DatasetBondHistory))
	assert.False(t, b.Supports(DatasetSnapshot))

	raw, err := b.Fetch(context.Background(), DatasetBondHistory,
		map[string]string{ParamSymbol: "113050", ParamStart: "2024-01-01"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{ParamSymbol: "113050"}, fp.last.Params)
	assert.Equal(t, 5*time.Second, fp.last.Timeout)
	assert.True(t, fp.dl)
	assert.Equal(t, "fake", raw.Source)
	assert.Equal(t, "bond_history", raw.Dataset)
}

func TestBind_NoTimeoutWhenUnsupported(t *testing.T) {
	fp := &fakeProvider{id: "fake", cap: Capability{Datasets: []Dataset{DatasetBondHistory}}}
	b := Bind(fp)

	_, err := b.Fetch(context.Background(), DatasetBondHistory, map[string]string{ParamSymbol: "x"}, 5*time.Second)
	require.NoError(t, err)
	assert.Zero(t, fp.last.Timeout)
	assert.False(t, fp.dl)
	assert.Empty(t, fp.last.Params)
}

func TestBind_UnsupportedDataset(t *testing.T) {
	b := Bind(&fakeProvider{id: "fake"})
	_, err := b.Fetch(context.Background(), DatasetSnapshot, nil, 0)
	assert.Error(t, err)
}

func TestSet(t *testing.T) {
	s := NewSet(&fakeProvider{id: "b"}, &fakeProvider{id: "a"})
	_, ok := s.Get("a")
	assert.True(t, ok)
	_, ok = s.Get("b")
	assert.True(t, ok)
	_, ok = s.Get("z")
	assert.False(t, ok)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{Sources: append(config.DefaultSources(), config.SourceConfig{ID: "unknown"})}
	s := FromConfig(cfg, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}))
	for _, id := range []string{"eastmoney", "jsl", "sina", "tencent"} {
		_, ok := s.Get(id)
		assert.True(t, ok, id)
	}
	_, ok := s.Get("unknown")
	assert.False(t, ok)

	jsl, _ := s.Get("jsl")
	assert.True(t, jsl.Supports(DatasetSnapshot))
}

func TestLoadCookie(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookie.txt")
	require.NoError(t, os.WriteFile(path, []byte("  kbzw__user_login=abc\n"), 0o600))

	assert.Equal(t, "kbzw__user_login=abc", LoadCookie(config.JSLConfig{CookieFile: path}))
	assert.Equal(t, "inline", LoadCookie(config.JSLConfig{CookieFile: path, Cookie: "inline"}))
	assert.Equal(t, "", LoadCookie(config.JSLConfig{CookieFile: filepath.Join(dir, "missing")}))
	assert.Equal(t, "", LoadCookie(config.JSLConfig{}))
}
