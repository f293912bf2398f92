package builtin

import (
	"finagent/internal/portfolio"
	"finagent/internal/tool"
	"finagent/internal/tool/registry"
)

// Tools 按路由优先顺序返回全部内置工具
func Tools(src portfolio.Source, opts Options) []tool.Definition {
	return []tool.Definition{
		NewPerformanceTool(src),
		NewTransactionsTool(src),
		NewTaxTool(src, opts),
		NewAllocationTool(src),
		NewComplianceTool(src),
		NewMarketTool(src),
	}
}

// NewRegistry 注册全部内置工具并冻结
func NewRegistry(src portfolio.Source, opts Options) (*registry.Registry, error) {
	return registry.NewBuilder().Register(Tools(src, opts)...).Build()
}

// PlanPhrase 显式多步短语：命中时按 Tools 顺序串联
type PlanPhrase struct {
	Phrase string
	Tools  []string
}

// PlanPhrases 内置多步短语
func PlanPhrases() []PlanPhrase {
	return []PlanPhrase{
		{Phrase: "health check", Tools: []string{PerformanceToolName, AllocationToolName, ComplianceToolName}},
		{Phrase: "full analysis", Tools: []string{PerformanceToolName, AllocationToolName, ComplianceToolName}},
		{Phrase: "complete review", Tools: []string{PerformanceToolName, TransactionsToolName, TaxToolName}},
		{Phrase: "portfolio overview", Tools: []string{PerformanceToolName, AllocationToolName}},
		{Phrase: "tax and compliance", Tools: []string{TaxToolName, ComplianceToolName}},
	}
}
