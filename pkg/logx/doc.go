// Package logx configures gpuwatch's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, rotated by lumberjack
//   - Runtime level/sink changes without re-plumbing loggers
package logx
