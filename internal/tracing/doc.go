// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package tracing provides OpenTelemetry spans and metrics for tool calls.

Every MCP tool call gets a server span named "tool <name>" carrying the
request ID. Query server requests are counted and timed through
MetricsCollector.RecordRPC, which matches queryserver.CallObserver.

Metrics are exposed through the Prometheus exporter on the /metrics
endpoint of the HTTP transport:

  - codeql_mcp_tool_calls_total{tool,status}
  - codeql_mcp_tool_duration_seconds{tool,status}
  - codeql_mcp_tool_calls_in_flight
  - codeql_mcp_rpc_calls_total{method,status}
  - codeql_mcp_rpc_duration_seconds{method,status}

Spans are exported to any mix of console, OTLP gRPC and OTLP HTTP
destinations:

	observability:
	  tracing:
	    enabled: true
	    sample_rate: 0.25
	    exporters:
	      - type: otlp
	        endpoint: localhost:4317
	        insecure: true
*/
package tracing
