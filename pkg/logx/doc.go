// Package logx wraps zerolog behind a small structured-logging API.
//
// Components receive a Logger (usually derived with With) and never touch
// zerolog directly. The Service owns the sinks (console, file) and can swap
// level/outputs at runtime via Apply without invalidating derived loggers.
package logx
