// Package logx is a thin layer over zerolog. It gives the bot a console
// writer with short timestamps and caller sites, an optional JSON file sink,
// and a Service that swaps level and sinks at runtime without touching the
// Logger handles already handed out.
package logx
