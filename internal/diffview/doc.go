// Package diffview turns unified diff text into numbered display rows.
//
// Parsing is a pure function of the text of one file's diff: there is
// no incremental update, callers re-parse whenever the text changes.
// Large files are withheld behind a RevealGate until the user asks
// for them by path.
package diffview
