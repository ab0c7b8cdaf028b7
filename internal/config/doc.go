// Package config provides user configuration management for lifxlan.
//
// This package manages a configuration file holding transport settings,
// discovery settings, and what the CLI has learned about each device. The
// file is YAML or TOML, chosen by extension, and lives in the OS-specific
// configuration directory unless a path is given.
//
// # Configuration File Location
//
// The default configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/lifxlan/config.yaml or $HOME/.config/lifxlan/config.yaml
//   - macOS: $HOME/.config/lifxlan/config.yaml
//   - Windows: %LOCALAPPDATA%\lifxlan\config.yaml
//
// # Example
//
//	version: 1
//	transport:
//	  default_broadcast: 192.168.1.255
//	  message_timeout: 10
//	  retry:
//	    timeouts: [[0.2, 0.2], [0.1, 0.5], [0.2, 1], [1, 5]]
//	    max_retries: 3
//	discovery:
//	  hardcoded:
//	    d073d5000001: 192.168.1.20
//	  mdns: true
//
// Times are in seconds. HARDCODED_DISCOVERY (a JSON object of serial to
// address) and SERIAL_FILTER (comma separated serials) in the environment
// replace the file's discovery settings.
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    return err
//	}
//	opts, err := registry.TransportOptions()
//	if err != nil {
//	    return err
//	}
//	bridge, err := transport.NewBridge(opts)
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config
