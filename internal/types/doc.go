/*
Package types defines the data structures shared across wssampler.

# Overview

The types package provides shared type definitions for:
  - Rounds (one send/await cycle on a WebSocket connection)
  - Sample results reported back to the caller
  - TLS and OAuth 2.0 client-credentials settings
  - Close status codes and match outcomes

# Rounds

Round:
  - Endpoint (URL, headers, subprotocols)
  - Message to send, response and disconnect patterns
  - Backlog size, streaming flag, timeouts
  - JMESPath extraction rules applied to the matched message

# Results

SampleResult:
  - Matched flag and which branch matched
  - Open/close timeout flags, close error code
  - Setup, send and extraction errors
  - Diagnostic log and response backlog text
  - Timing

The Outcome method buckets a result for statistics, checked in this order:
success, cancelled, setup_error, connect_timeout, send_error, abnormal_close,
response_timeout, extract_error, mismatch.

# Field Tags

All types use JSON and YAML tags so plans and results can be written as either.
*/
package types
