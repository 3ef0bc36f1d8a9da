package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for switchboard observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrServerKind   = attribute.Key("server.kind")
	AttrServerTarget = attribute.Key("server.target")

	AttrExecutorModel       = attribute.Key("executor.model")
	AttrExecutorMaxSteps    = attribute.Key("executor.max_steps")
	AttrExecutorStatus      = attribute.Key("executor.status")
	AttrExecutorRecoverable = attribute.Key("executor.recoverable")
	AttrExecutorTouched     = attribute.Key("executor.touched_handles")

	AttrTurnSession     = attribute.Key("turn.session")
	AttrTurnStatus      = attribute.Key("turn.status")
	AttrTurnReplyLength = attribute.Key("turn.reply_length")
)
