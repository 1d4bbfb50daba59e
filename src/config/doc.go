// Package config defines the configuration for an opsmesh node.
//
// Regardless of how opsmesh is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// options, opsmesh relies on a data directory, defined by Config.DataDir,
// where it expects to find a few additional files:
//
//	priv_key   // a plain text file containing the raw private key (cf. opsmesh keygen).
//	peers.json // (optional) a JSON file containing the bootstrap list of peers.
//	state.json // the persisted collective state, rewritten every persistence cycle.
package config
