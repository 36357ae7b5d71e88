// Package engine hosts engine modules on wazero.
//
// The engine package provides three main types:
//
//	WazeroEngine   - owns a wazero runtime and a compile cache
//	WazeroModule   - a compiled core module, inspectable before instantiation
//	WazeroInstance - a running module with exported functions and memory
//
// # Instantiation Flow
//
//  1. WazeroEngine.Compile() validates and compiles the binary
//  2. WazeroModule.ExportedFunctions() exposes export signatures so callers
//     can verify a capability surface without running guest code
//  3. WazeroModule.Instantiate() links WASI preview1 when imported, runs
//     _initialize when exported and returns a WazeroInstance
//  4. WazeroInstance.CallI32() invokes exports; Memory() exposes "memory"
//
// Guest stdout and stderr are forwarded line by line to Logger() at debug
// level.
//
// # Thread Safety
//
// WazeroEngine and WazeroModule are safe for concurrent use.
// WazeroInstance may run different exports concurrently, which is how a stop
// request reaches a running search. The same export must not be called from
// two goroutines at once.
package engine
