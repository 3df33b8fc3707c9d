// Package calendar provides the exchange trading calendar.
package calendar

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/fetcher"
	"github.com/sells-group/cbdata/internal/resilience"
)

// DateLayout is the canonical trade date format.
const DateLayout = "2006-01-02"

// SZSEBase is the Shenzhen exchange host serving the monthly calendar.
const SZSEBase = "https://www.szse.cn"

const szseMonthPath = "/api/report/exchange/onepersistenthour/monthList"

// Calendar returns the ordered trading dates known to the exchange.
type Calendar interface {
	TradingDays(ctx context.Context) ([]string, error)
}

// Static is a fixed calendar.
type Static []string

// TradingDays implements Calendar.
func (s Static) TradingDays(context.Context) ([]string, error) {
	if len(s) == 0 {
		return nil, eris.New("calendar: empty")
	}
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out, nil
}

// SZSE loads trading days month by month from the Shenzhen exchange and
// caches them for the life of the process. Failed loads are not cached.
type SZSE struct {
	f        fetcher.Fetcher
	base     string
	lookback int
	retry    resilience.RetryConfig
	nowFunc  func() time.Time

	mu   sync.Mutex
	days []string
}

// NewSZSE creates a calendar covering the current month and the previous
// lookbackMonths months.
func NewSZSE(f fetcher.Fetcher, baseURL string, lookbackMonths int, retry resilience.RetryConfig) *SZSE {
	if baseURL == "" {
		baseURL = SZSEBase
	}
	if lookbackMonths < 0 {
		lookbackMonths = 0
	}
	return &SZSE{
		f:        f,
		base:     strings.TrimRight(baseURL, "/"),
		lookback: lookbackMonths,
		retry:    retry,
		nowFunc:  time.Now,
	}
}

// TradingDays implements Calendar.
func (c *SZSE) TradingDays(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.days != nil {
		return c.days, nil
	}

	now := c.nowFunc().In(shanghai)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, shanghai)

	var days []string
	for i := c.lookback; i >= 0; i-- {
		month := first.AddDate(0, -i, 0).Format("2006-01")
		var monthDays []string
		err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
			var err error
			monthDays, err = c.fetchMonth(ctx, month)
			return err
		})
		if err != nil {
			return nil, eris.Wrapf(err, "calendar: load %s", month)
		}
		days = append(days, monthDays...)
	}
	if len(days) == 0 {
		return nil, eris.New("calendar: no trading days returned")
	}
	sort.Strings(days)

	zap.L().Info("trading calendar loaded",
		zap.String("component", "calendar"),
		zap.Int("days", len(days)),
		zap.String("first", days[0]),
		zap.String("last", days[len(days)-1]),
	)
	c.days = days
	return days, nil
}

func (c *SZSE) fetchMonth(ctx context.Context, month string) ([]string, error) {
	body, err := c.f.Get(ctx, c.base+szseMonthPath, url.Values{"month": {month}}, nil)
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, eris.Errorf("calendar: month %s payload has no data", month)
	}
	var days []string
	data.ForEach(func(_, d gjson.Result) bool {
		if d.Get("jybz").String() == "1" {
			if day := d.Get("jyrq").String(); day != "" {
				days = append(days, day)
			}
		}
		return true
	})
	return days, nil
}

// LatestOnOrBefore returns the last trading day in days that is not after
// date, or "" when none is.
func LatestOnOrBefore(days []string, date string) string {
	i := sort.SearchStrings(days, date)
	if i < len(days) && days[i] == date {
		return date
	}
	if i == 0 {
		return ""
	}
	return days[i-1]
}

// Between returns the trading days d with after < d <= through.
func Between(days []string, after, through string) []string {
	var out []string
	for _, d := range days {
		if d > after && d <= through {
			out = append(out, d)
		}
	}
	return out
}

// Today returns the current date in the exchange time zone.
func Today(now time.Time) string {
	return now.In(shanghai).Format(DateLayout)
}

var shanghai = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}()
