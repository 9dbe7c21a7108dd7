// `iostitch daemon` - HTTP server exposing the query entry points to remote clients.
//
// Endpoints:
//
//	GET /series/{metric}?selector=...&from=...&to=...&strict=...
//	GET /jobinfo/{jobid}?time=...
//	GET /lfsstatus/{filesystem}?time=...
//
// from/to accept YYYY-MM-DD, Nd, Nw or RFC3339; a bare `to` date is taken end-of-day so that a
// date pair covers the last day in full.  Series responses carry the assembled matrix with nulls
// for missing cells plus the explicit gap list; fact responses carry the value and the name of
// the provider that answered.
//
// The server tries hard to keep running; per-request failures are mapped onto HTTP statuses and
// never bring it down.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"iostitch/app"
	"iostitch/common"
	"iostitch/errs"
	"iostitch/providers/jobinfo"
	"iostitch/providers/lfsstatus"
	"iostitch/series"
)

const defaultListenPort = 8087

type Daemon struct {
	app  *app.App
	port uint
}

func New(a *app.App, port uint) *Daemon {
	if port == 0 {
		port = defaultListenPort
	}
	return &Daemon{app: a, port: port}
}

func (d *Daemon) Start() error {
	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("iostitch", "0.1.0"))
	d.register(api)
	addr := fmt.Sprintf(":%d", d.port)
	common.Log.Infof("listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

type seriesInput struct {
	Metric   string `path:"metric" doc:"Metric name from the site configuration"`
	Selector string `query:"selector" doc:"Selector key for keyed templates"`
	From     string `query:"from" required:"true" doc:"Range start: YYYY-MM-DD, Nd, Nw or RFC3339"`
	To       string `query:"to" required:"true" doc:"Range end (exclusive)"`
	Strict   bool   `query:"strict" doc:"Fail on any data gap instead of returning a partial result"`
}

type gapBody struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"`
}

type seriesBody struct {
	Metric     string       `json:"metric"`
	Selector   string       `json:"selector,omitempty"`
	Timestamps []int64      `json:"timestamps"`
	Columns    []string     `json:"columns"`
	Values     [][]*float64 `json:"values"`
	Gaps       []gapBody    `json:"gaps"`
}

type seriesOutput struct {
	Body seriesBody
}

// toBody converts the assembled matrix to a JSON-friendly shape: missing cells become null, which
// JSON can carry and NaN cannot.
func toBody(r *series.Assembled) seriesBody {
	body := seriesBody{
		Metric:     r.Metric,
		Selector:   r.Selector,
		Timestamps: r.Timestamps,
		Columns:    r.Columns,
		Values:     make([][]*float64, len(r.Values)),
		Gaps:       make([]gapBody, 0, len(r.Gaps)),
	}
	for i, row := range r.Values {
		out := make([]*float64, len(row))
		for j := range row {
			if !r.Missing[i][j] {
				v := row[j]
				out[j] = &v
			}
		}
		body.Values[i] = out
	}
	for _, g := range r.Gaps {
		body.Gaps = append(body.Gaps, gapBody{Start: g.Range.Start, End: g.Range.End, Reason: g.Reason})
	}
	return body
}

type factInput struct {
	Time string `query:"time" doc:"Reference time, RFC3339 (default now)"`
}

type jobinfoInput struct {
	Jobid string `path:"jobid"`
	factInput
}

type jobinfoOutput struct {
	Body struct {
		Provider string        `json:"provider"`
		Job      *jobinfo.Info `json:"job"`
	}
}

type lfsstatusInput struct {
	Filesystem string `path:"filesystem"`
	factInput
}

type lfsstatusOutput struct {
	Body struct {
		Provider string            `json:"provider"`
		Status   *lfsstatus.Status `json:"status"`
		Fullness float64           `json:"fullness"`
	}
}

func (d *Daemon) register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "query-series",
		Method:      http.MethodGet,
		Path:        "/series/{metric}",
		Summary:     "Assemble a metric over a time range",
	}, func(ctx context.Context, input *seriesInput) (*seriesOutput, error) {
		now := time.Now()
		from, err := common.ParseDateUtc(now, input.From, false)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		to, err := common.ParseDateUtc(now, input.To, true)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		result, err := d.app.QuerySeries(ctx, input.Metric, input.Selector, from, to, input.Strict)
		if err != nil {
			return nil, mapError(err)
		}
		return &seriesOutput{Body: toBody(result)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-jobinfo",
		Method:      http.MethodGet,
		Path:        "/jobinfo/{jobid}",
		Summary:     "Job start/end time and node list",
	}, func(ctx context.Context, input *jobinfoInput) (*jobinfoOutput, error) {
		at, err := parseRefTime(input.Time)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		res, _, err := d.app.ResolveFact(ctx, jobinfo.Capability, jobinfo.RequestFor(input.Jobid, at))
		if err != nil {
			return nil, mapError(err)
		}
		out := new(jobinfoOutput)
		out.Body.Provider = res.Provider
		out.Body.Job = res.Value.(*jobinfo.Info)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-lfsstatus",
		Method:      http.MethodGet,
		Path:        "/lfsstatus/{filesystem}",
		Summary:     "File system fullness at a point in time",
	}, func(ctx context.Context, input *lfsstatusInput) (*lfsstatusOutput, error) {
		at, err := parseRefTime(input.Time)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		res, _, err := d.app.ResolveFact(
			ctx, lfsstatus.Capability, lfsstatus.RequestFor(input.Filesystem, at))
		if err != nil {
			return nil, mapError(err)
		}
		out := new(lfsstatusOutput)
		out.Body.Provider = res.Provider
		out.Body.Status = res.Value.(*lfsstatus.Status)
		out.Body.Fullness = out.Body.Status.Fullness()
		return out, nil
	})
}

func parseRefTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errs.IsIncomplete(err):
		return huma.Error422UnprocessableEntity(err.Error())
	case errs.IsCorrupt(err):
		return huma.Error422UnprocessableEntity(err.Error())
	case errs.IsConfiguration(err):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, errs.ErrCancelled):
		return huma.NewError(http.StatusRequestTimeout, err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
