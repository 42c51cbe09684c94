// Package config loads streamtune settings and runtime option declarations.
//
// # Settings
//
// Settings files are YAML, JSON or CUE, chosen by extension. Load decodes
// the file, fills defaults, resolves relative paths against the file's
// directory and validates the result with validator/v10 struct tags:
//
//	harness:
//	  command: ./run-harness.sh
//	  args: ["--benchmark", "fmradio"]
//	  timeout: 5m
//	  grace_period: 5s
//	tuning:
//	  program: fmradio
//	  configuration: fmradio.cfg.json
//	  trials: 200
//	  seed: 42
//	  techniques: [force-fuse, force-remove, force-equal-division]
//	  seeds:
//	    - {multiplier: 16}
//	store:
//	  path: streamtune.db
//	runtime_options: jvm.star
//	policies: [policies/]
//	telemetry:
//	  logging: {level: info, format: console}
//	  metrics: {enabled: true, listen_address: ":9090"}
//
// CUE settings are unified with the built-in #Settings schema before they
// are decoded, so typos and out-of-range values are reported with file
// positions:
//
//	harness: command: "./run-harness.sh"
//	tuning: {
//	    program:       "fmradio"
//	    configuration: "fmradio.cfg.json"
//	    trials:        200
//	}
//
// Durations accept Go duration strings ("90s") or a number of seconds.
//
// # Runtime Options
//
// Launch flags of the harness are searched alongside the configuration.
// They are declared in a Starlark file whose global options list is built
// with four builtins:
//
//	options = [
//	    pow2("heap", 256, 8192, "-Xmx%dm"),          # power-of-two switch
//	    integer("tiers", 1, 4, 4, "-XX:TieredStopAtLevel=%d"),
//	    choice("gc", ["G1", "Parallel"], 0, "-XX:+Use%sGC"),
//	    flag("compressedOops", "-XX:+UseCompressedOops"),  # on or off
//	]
//
// Each record is checked against the #RuntimeOption CUE schema and then
// turned into an engine.RuntimeOption. Scripts run with a time limit and
// may read caller-supplied input globals.
package config
