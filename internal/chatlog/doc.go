// Package chatlog implements the append-only chat log: every broadcast line is
// written as "[yyyy-MM-dd HH:mm:ss] text" by a single writer at a time, and the
// file can be replayed back into the ordered sequence of entries.
package chatlog
