// Package wasmchess drives a sandboxed chess move-generation and search engine
// compiled to WebAssembly.
//
// The engine module is a black box exposing a narrow ABI: two fixed-capacity
// byte windows in linear memory plus a handful of integer-returning entry
// points. This module marshals requests across that ABI, runs the engine in an
// isolated execution context reachable only through message passing, and
// orchestrates a human-vs-engine game on top.
//
// # Architecture Overview
//
//	wasmchess/           Root package with Position, Move and SearchResult
//	├── abi/             ABI adapter: buffer marshalling, status codes, BoundaryError
//	├── engine/          wazero integration: compile, instantiate, memory access
//	├── loader/          Candidate sources and capability verification
//	├── protocol/        Wire messages and the per-request response guard
//	├── transport/       Message-passing endpoints (in-process pipe, stdio stream, child process)
//	├── worker/          Isolated runtime with the queue-then-drain bootstrap
//	├── client/          Correlation-id multiplexer with cancellation
//	├── host/            Worker plus client wiring for both isolation modes
//	├── game/            Turn orchestration between a human and the engine
//	├── rules/           Legal move collaborator backed by notnil/chess
//	├── config/          YAML configuration
//	├── metrics/         Prometheus collector
//	├── server/          HTTP game API
//	├── errors/          Structured error types
//	└── cmd/chess/       CLI: play, analyze, inspect, serve, worker
//
// # Quick Start
//
//	conn, err := host.Connect(ctx, host.Options{EnginePath: "sameshi-engine.wasm"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	if err := conn.SetPosition(ctx, wasmchess.StartPosition); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := conn.BestMove(ctx, nil)
//
// A game runs on top of any connection:
//
//	o, err := game.New(conn, rules.Standard{}, game.WithDepth(3))
//	o.Start(ctx)
//	o.PlayHuman("e2e4")
//
// # Thread Safety
//
// The abi.Adapter is owned by exactly one goroutine (the worker executor);
// only Stop may be called concurrently. Client, Runtime and Orchestrator are
// safe for concurrent use.
package wasmchess
