// Package recovery turns free-text model output into structured values.
//
// Model responses are routinely wrapped in Markdown fences, prefixed with
// prose, or contain characters that break strict parsers. The functions here
// strip that noise and fall back step by step; the JSON path never fails and
// the XML path reports ErrUnparseable only after every fallback is exhausted.
package recovery
