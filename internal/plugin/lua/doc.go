// Package lua runs extensions written in Lua on top of gopher-lua.
//
// Each script source gets its own sandboxed State. The script's top level runs
// once when the Script is created; afterwards the coordinator calls the global
// hook functions onLoad, onUnload and onReload when present.
//
// # Host API
//
// Scripts reach the host through the global table "host":
//
//	host.command("greet", function(args) host.log("hi " .. args[1]) end)
//	host.listen("join", function(data, topic) ... end)
//	host.on("chat", function(data) ... end)            -- easy listener
//	host.placeholder("stats", function(param) return "0" end)
//	host.emit("join", { player = "ada" })
//	host.set_context("motd", "welcome")
//	host.get_context("other/main.lua", "motd")
//	host.log("message")
//	host.name()
//
// Registration failures raise a Lua error, so a failing host call inside
// onLoad fails that extension.
//
// # Sandbox
//
// Only the base, package, table, string, math and coroutine libraries are
// opened. dofile, loadfile, load and loadstring are removed and require only
// resolves built-in modules and dependency modules preloaded by the Factory.
//
// # Dependencies
//
// Resolved dependencies with the "lua" extension are preloaded as modules
// named by their artifact id:
//
//	local json = require("json")
package lua
