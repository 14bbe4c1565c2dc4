package stream

import "strings"

// sampleStream is a recorded provider stream with reasoning, text
// containing multi-byte characters, and a tool call whose input JSON
// arrives in pieces.
var sampleStream = strings.Join([]string{
	"event: message_start",
	`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"usage":{"input_tokens":412,"output_tokens":1}}}`,
	"",
	"event: content_block_start",
	`data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`,
	"",
	"event: content_block_delta",
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Need the company first."}}`,
	"",
	"event: content_block_delta",
	`data: {"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"EqQBCkYIAx"}}`,
	"",
	"event: content_block_stop",
	`data: {"type":"content_block_stop","index":0}`,
	"",
	": keepalive comment",
	"event: ping",
	`data: {"type":"ping"}`,
	"",
	"event: content_block_start",
	`data: {"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`,
	"",
	"event: content_block_delta",
	`data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Recherche de la société "}}`,
	"",
	"event: content_block_delta",
	`data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Québec — un instant ✓"}}`,
	"",
	"event: content_block_stop",
	`data: {"type":"content_block_stop","index":1}`,
	"",
	"event: content_block_start",
	`data: {"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_01","name":"load_company_context","input":{}}}`,
	"",
	"event: content_block_delta",
	`data: {"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"{\"company_na"}}`,
	"",
	"event: content_block_delta",
	`data: {"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"me\": \"Seagate\"}"}}`,
	"",
	"event: content_block_stop",
	`data: {"type":"content_block_stop","index":2}`,
	"",
	"event: message_delta",
	`data: {"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":87}}`,
	"",
	"event: message_stop",
	`data: {"type":"message_stop"}`,
	"",
}, "\r\n")
