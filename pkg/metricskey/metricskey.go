package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	StatsSessionsCreated = metrics.Describe{
		Type: metrics.TypeCounter,
		Name: "stats_sessions_created",
		Help: "stats_sessions_created provides total sessions created",
	}

	StatsSessionsExpired = metrics.Describe{
		Type: metrics.TypeCounter,
		Name: "stats_sessions_expired",
		Help: "stats_sessions_expired provides total sessions removed by the sweep",
	}

	StatsServerConnectsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_server_connects_succeeded",
		Help:         "stats_server_connects_succeeded provides total provider connects succeeded",
		RequiredTags: []string{"server"},
	}

	StatsServerConnectsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_server_connects_failed",
		Help:         "stats_server_connects_failed provides total provider connects failed",
		RequiredTags: []string{"server"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls for unknown tools",
		RequiredTags: []string{"tool"},
	}

	StatsChatTurnsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_chat_turns_failed",
		Help:         "stats_chat_turns_failed provides total chat turns failed",
		RequiredTags: []string{"model"},
	}
)

// Perf
var (
	PerfChatTurn = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_chat_turn",
		Help:         "perf_chat_turn provides duration of one chat turn",
		RequiredTags: []string{"model"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfServerConnect = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_server_connect",
		Help:         "perf_server_connect provides duration of provider connect and discovery",
		RequiredTags: []string{"server"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfChatTurn,
	&PerfServerConnect,
	&PerfToolCall,
	&StatsChatTurnsFailed,
	&StatsServerConnectsFailed,
	&StatsServerConnectsSucceeded,
	&StatsSessionsCreated,
	&StatsSessionsExpired,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
