// Package harness executes YAML conversation scenarios against real
// sessions wired to the sqlite store and the in-process hub, and
// compares the resulting per-viewer transcripts against golden files.
//
// A scenario scripts what each viewer does: send, retry, hide, delete,
// advance the clock, disconnect the channel, or make the next durable
// write fail. Steps refer back to earlier sends by label; the label
// resolves through the message text, so texts within one scenario must
// be unique. The harness pumps every session deterministically between
// steps, so the transcripts are stable across runs.
package harness
