// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolserver hosts the demo tool servers the analyst talks to: an
// industry data query, a deep analysis report and a legacy tourism query.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/kairos-analyst/pkg/errors"
	"github.com/jllopis/kairos-analyst/pkg/mcp"
)

// Server and tool names.
const (
	IndustryQuery   = "industry_query"
	DeepAnalysis    = "deep_analysis"
	TourismQuery    = "tourism_query"
	GetIndustryData = "get_industry_data"
	DeepAnalysisFn  = "deep_analysis"
	GetTourismData  = "get_tourism_data"

	version = "1.0.0"
)

// DeepAnalysisThreshold separates the deep report from the basic advice, in
// units of 10k yuan.
const DeepAnalysisThreshold = 1000

var (
	industryOutputs = []int{60, 80, 140, 1200, 2000}
	tourismOutputs  = []int{60, 2000}
)

const deepReport = `【深度分析报告】
1. 产业地位：该行业已进入成熟发展期，产值突破千万级大关，是本地经济的重要支柱。
2. 竞争优势：具备完整的产业链条和较高的技术壁垒，市场占有率稳居区域前列。
3. 发展建议：
   - 建议加大研发投入，推动数字化转型。
   - 拓展国际市场，提升品牌全球影响力。
   - 关注可持续发展，优化能源结构。`

const basicAdvice = `【基础分析建议】
1. 现状评估：产业规模尚处起步阶段，增长潜力巨大但基础薄弱。
2. 关键短板：缺乏龙头企业带动，产业链配套不完善。
3. 改进措施：
   - 聚焦细分市场，打造特色品牌。
   - 争取政策扶持，完善基础设施建设。`

// IndustryData is the result of get_industry_data and get_tourism_data.
type IndustryData struct {
	Location     string `json:"location,omitempty"`
	Industry     string `json:"industry,omitempty"`
	AnnualOutput int    `json:"annual_output"`
	Unit         string `json:"unit"`
	Description  string `json:"description"`
}

// Chooser returns an index in [0, n).
type Chooser func(n int) int

type options struct {
	choose Chooser
}

// Option configures a demo server.
type Option func(*options)

// WithChooser replaces the random choice of annual output.
func WithChooser(c Chooser) Option {
	return func(o *options) {
		if c != nil {
			o.choose = c
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{choose: rand.IntN}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewIndustryQueryServer serves get_industry_data(industry, industry_name).
func NewIndustryQueryServer(opts ...Option) *mcp.Server {
	o := buildOptions(opts)
	s := mcp.NewServer(IndustryQuery, version)
	s.AddTool(mcpgo.NewTool(GetIndustryData,
		mcpgo.WithDescription("Get development data for a local industry."),
		mcpgo.WithString("industry",
			mcpgo.Description("Industry name, e.g. tourism, finance, it."),
			mcpgo.DefaultString("tourism"),
		),
		mcpgo.WithString("industry_name",
			mcpgo.Description("Alternative spelling of industry; wins when set."),
		),
	), func(_ context.Context, args map[string]any) (*mcpgo.CallToolResult, error) {
		industry := stringArg(args, "industry", "tourism")
		if name := stringArg(args, "industry_name", ""); name != "" {
			industry = name
		}
		const location = "本地"
		return jsonResult(IndustryData{
			Location:     location,
			Industry:     industry,
			AnnualOutput: industryOutputs[o.choose(len(industryOutputs))],
			Unit:         "万元",
			Description:  location + industry + "行业年度总产值",
		})
	})
	return s
}

// NewTourismQueryServer serves get_tourism_data, the tool the industry query
// replaced. Skills that still reference it exercise session healing.
func NewTourismQueryServer(opts ...Option) *mcp.Server {
	o := buildOptions(opts)
	s := mcp.NewServer(TourismQuery, version)
	s.AddTool(mcpgo.NewTool(GetTourismData,
		mcpgo.WithDescription("Get the annual output of local tourism."),
	), func(context.Context, map[string]any) (*mcpgo.CallToolResult, error) {
		return jsonResult(IndustryData{
			AnnualOutput: tourismOutputs[o.choose(len(tourismOutputs))],
			Unit:         "万元",
			Description:  "本地旅游业年度总产值",
		})
	})
	return s
}

// NewDeepAnalysisServer serves deep_analysis(data).
func NewDeepAnalysisServer() *mcp.Server {
	s := mcp.NewServer(DeepAnalysis, version)
	s.AddTool(mcpgo.NewTool(DeepAnalysisFn,
		mcpgo.WithDescription("Analyse industry data in depth."),
		mcpgo.WithObject("data",
			mcpgo.Required(),
			mcpgo.Description("Industry data as returned by get_industry_data."),
		),
	), func(_ context.Context, args map[string]any) (*mcpgo.CallToolResult, error) {
		data, err := objectArg(args, "data")
		if err != nil {
			return mcpgo.NewToolResultError(err.Error()), nil
		}
		return mcpgo.NewToolResultText(Analyze(annualOutput(data))), nil
	})
	return s
}

// Analyze returns the report for an annual output.
func Analyze(annualOutput float64) string {
	if annualOutput > DeepAnalysisThreshold {
		return deepReport
	}
	return basicAdvice
}

type factory func(opts ...Option) *mcp.Server

var builtins = map[string]factory{
	IndustryQuery: NewIndustryQueryServer,
	DeepAnalysis:  func(...Option) *mcp.Server { return NewDeepAnalysisServer() },
	TourismQuery:  NewTourismQueryServer,
}

// Names lists the built-in servers.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the built-in server called name.
func New(name string, opts ...Option) (*mcp.Server, error) {
	f, ok := builtins[name]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			fmt.Sprintf("no built-in tool server %q (have %s)", name, strings.Join(Names(), ", ")), nil)
	}
	return f(opts...), nil
}

// Serve runs s on addr with the given transport ("sse" or "http") until ctx
// is canceled.
func Serve(ctx context.Context, s *mcp.Server, transport, addr string) error {
	switch mcp.Transport(transport) {
	case "", mcp.TransportSSE:
		return s.ServeSSE(ctx, addr)
	case mcp.TransportHTTP:
		return s.ServeStreamableHTTP(ctx, addr)
	default:
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown transport %q", transport), nil)
	}
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

func stringArg(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return def
}

// objectArg accepts an object or a JSON-encoded object.
func objectArg(args map[string]any, key string) (map[string]any, error) {
	switch v := args[key].(type) {
	case map[string]any:
		return v, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("%s must be an object: %v", key, err)
		}
		return m, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("%s must be an object, got %T", key, v)
	}
}

func annualOutput(data map[string]any) float64 {
	switch v := data["annual_output"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	default:
		return 0
	}
}
