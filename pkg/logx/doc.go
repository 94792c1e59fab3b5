// Package logx is jobsched's structured logging layer.
//
// A small wrapper (logx.Logger) over zerolog keeps console output readable
// (short timestamp and caller) while file output stays JSON.
package logx
