// Package logx is recrawler's logging layer: a thin Logger over zerolog whose
// level and sinks can be swapped at runtime by the owning Service.
//
// Console output carries a millisecond timestamp and a file:line caller. The
// optional file sink is JSON lines.
package logx
