package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/muurk/lifxlan/internal/transport"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if configDir == "" {
		t.Error("GetConfigDir() returned empty string")
	}

	if !strings.Contains(configDir, "lifxlan") {
		t.Errorf("GetConfigDir() = %v, should contain 'lifxlan'", configDir)
	}

	// Platform-specific checks
	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("macOS config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG_CONFIG_HOME is only used on Linux and other Unix systems")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	got, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if got != filepath.Join("/tmp/xdg", "lifxlan") {
		t.Errorf("GetConfigDir() = %v", got)
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg.Version != 1 {
		t.Errorf("NewRegistry().Version = %v, want 1", reg.Version)
	}
	if reg.Devices == nil {
		t.Error("NewRegistry().Devices should not be nil")
	}
	if reg.Transport == nil || reg.Discovery == nil {
		t.Error("NewRegistry() sections should not be nil")
	}
	if reg.MDNSTimeout() != 0 {
		t.Error("mDNS should be off by default")
	}
}

func TestRegistryEnsureDevice(t *testing.T) {
	reg := NewRegistry()

	device1 := reg.EnsureDevice("d073d5000001")
	if device1 == nil {
		t.Fatal("EnsureDevice() returned nil")
	}

	device2 := reg.EnsureDevice("d073d5000001")
	if device1 != device2 {
		t.Error("EnsureDevice() should return same instance for same serial")
	}

	device3 := reg.EnsureDevice("d073d5000002")
	if device1 == device3 {
		t.Error("EnsureDevice() should create new instance for different serial")
	}
}

func TestRegistryUpdateDeviceLastSeen(t *testing.T) {
	reg := NewRegistry()

	before := time.Now()
	reg.UpdateDeviceLastSeen("d073d5000001", "192.168.1.100")
	after := time.Now()

	device := reg.GetDevice("d073d5000001")
	if device == nil {
		t.Fatal("Device should exist after UpdateDeviceLastSeen()")
	}
	if device.LastIP != "192.168.1.100" {
		t.Errorf("LastIP = %v, want 192.168.1.100", device.LastIP)
	}
	if device.LastSeen.Before(before) || device.LastSeen.After(after) {
		t.Errorf("LastSeen = %v, should be between %v and %v", device.LastSeen, before, after)
	}
}

func TestRegistrySetDeviceNickname(t *testing.T) {
	reg := NewRegistry()
	reg.SetDeviceNickname("d073d5000001", "Kitchen")

	device := reg.GetDevice("d073d5000001")
	if device == nil {
		t.Fatal("Device should exist after SetDeviceNickname()")
	}
	if device.Nickname != "Kitchen" {
		t.Errorf("Nickname = %v, want 'Kitchen'", device.Nickname)
	}
}

func TestRegistrySaveAndLoad(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			maxRetries := 2
			reg := NewRegistry()
			reg.SetDeviceNickname("d073d5000001", "Kitchen")
			reg.UpdateDeviceLastSeen("d073d5000001", "192.168.1.10")
			reg.Transport.DefaultBroadcast = "192.168.1.255"
			reg.Transport.MessageTimeout = 2.5
			reg.Transport.Retry = &Retry{
				GapBetweenResults: 0.5,
				Timeouts:          [][2]float64{{0.1, 0.1}, {0.5, 3}},
				MaxRetries:        &maxRetries,
			}
			reg.Discovery.Hardcoded = map[string]string{"d073d5000001": "192.168.1.10"}

			if err := reg.SaveAs(path); err != nil {
				t.Fatalf("SaveAs() error = %v", err)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Error("temporary file left behind")
			}

			loaded, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile() error = %v", err)
			}
			if loaded.Path() != path {
				t.Errorf("Path() = %q", loaded.Path())
			}
			device := loaded.GetDevice("d073d5000001")
			if device == nil || device.Nickname != "Kitchen" || device.LastIP != "192.168.1.10" {
				t.Fatalf("loaded device = %+v", device)
			}
			if loaded.Transport.Retry == nil || *loaded.Transport.Retry.MaxRetries != 2 {
				t.Errorf("loaded retry = %+v", loaded.Transport.Retry)
			}
			if got := loaded.Transport.Retry.Timeouts; len(got) != 2 || got[1] != [2]float64{0.5, 3} {
				t.Errorf("loaded timeouts = %v", got)
			}
			if got := loaded.Discovery.Hardcoded["d073d5000001"]; got != "192.168.1.10" {
				t.Errorf("loaded hardcoded = %q", got)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	missing, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() for a missing file error = %v", err)
	}
	if missing.Version != 1 || missing.Devices == nil {
		t.Errorf("missing file did not give a default registry: %+v", missing)
	}

	tests := []struct {
		name    string
		file    string
		body    string
		wantErr bool
	}{
		{name: "empty", file: "empty.yaml", body: ""},
		{name: "toml", file: "c.toml", body: "version = 1\n[transport]\nport = 56701\n"},
		{name: "wrong version", file: "v2.yaml", body: "version: 2\n", wantErr: true},
		{name: "bad yaml", file: "bad.yaml", body: "version: [\n", wantErr: true},
		{name: "bad toml", file: "bad.toml", body: "version = \n", wantErr: true},
		{name: "unknown extension", file: "c.json", body: "{}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0600); err != nil {
				t.Fatal(err)
			}
			_, err := LoadFile(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadFile() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryTransportOptions(t *testing.T) {
	t.Setenv(EnvHardcodedDiscovery, "")
	t.Setenv(EnvSerialFilter, "")

	maxRetries := 0
	reg := NewRegistry()
	reg.Transport = &Transport{
		DefaultBroadcast: "192.168.1.255",
		Port:             56701,
		MessageTimeout:   2,
		FindTimeout:      5,
		Retry: &Retry{
			GapBetweenAckAndRes: 0.25,
			Timeouts:            [][2]float64{{0.1, 0.3}},
			MaxRetries:          &maxRetries,
		},
	}
	reg.Discovery.Hardcoded = map[string]string{"D073D5000001": "10.0.0.1:56800"}
	reg.Discovery.SerialFilter = []string{"d073d5000001"}

	opts, err := reg.TransportOptions()
	if err != nil {
		t.Fatalf("TransportOptions() error = %v", err)
	}
	if opts.DefaultBroadcast != "192.168.1.255" || opts.Port != 56701 {
		t.Errorf("broadcast = %s:%d", opts.DefaultBroadcast, opts.Port)
	}
	if opts.DefaultTimeout != 2*time.Second || opts.FindTimeout != 5*time.Second {
		t.Errorf("timeouts = %v, %v", opts.DefaultTimeout, opts.FindTimeout)
	}
	if opts.Retry.GapBetweenAckAndRes != 250*time.Millisecond || opts.Retry.MaxRetries != 0 {
		t.Errorf("retry = %+v", opts.Retry)
	}
	if len(opts.Retry.Timeouts) != 1 || opts.Retry.Timeouts[0] != (transport.Step{Every: 100 * time.Millisecond, Until: 300 * time.Millisecond}) {
		t.Errorf("retry timeouts = %v", opts.Retry.Timeouts)
	}
	want := transport.Endpoint{Host: "10.0.0.1", Port: 56800}
	if got := opts.Discovery.Hardcoded["d073d5000001"]; got != want {
		t.Errorf("hardcoded = %v, want %v", got, want)
	}
	if len(opts.Discovery.SerialFilter) != 1 {
		t.Errorf("serial filter = %v", opts.Discovery.SerialFilter)
	}

	reg.Transport.Retry.Timeouts = [][2]float64{{0, 1}}
	if _, err := reg.TransportOptions(); err == nil {
		t.Error("TransportOptions() accepted a zero retry step")
	}
}

func TestRegistryDiscoveryOptions_Env(t *testing.T) {
	reg := NewRegistry()
	reg.Discovery.Hardcoded = map[string]string{"d073d5000009": "10.0.0.9"}

	t.Setenv(EnvHardcodedDiscovery, `{"d073d5000001": "192.168.0.1", "d073d5000002": "192.168.0.2:56701"}`)
	t.Setenv(EnvSerialFilter, "d073d5000001, d073d5000002")

	disc, err := reg.DiscoveryOptions()
	if err != nil {
		t.Fatalf("DiscoveryOptions() error = %v", err)
	}
	if len(disc.Hardcoded) != 2 {
		t.Fatalf("hardcoded = %v, want the environment to replace the file", disc.Hardcoded)
	}
	if got := disc.Hardcoded["d073d5000001"]; got.Port != 56700 {
		t.Errorf("default port = %d", got.Port)
	}
	if got := disc.Hardcoded["d073d5000002"]; got.Port != 56701 {
		t.Errorf("explicit port = %d", got.Port)
	}
	if len(disc.SerialFilter) != 2 {
		t.Errorf("serial filter = %v", disc.SerialFilter)
	}

	t.Setenv(EnvHardcodedDiscovery, "[not a map")
	if _, err := reg.DiscoveryOptions(); err == nil {
		t.Error("DiscoveryOptions() accepted a malformed environment value")
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    transport.Endpoint
		wantErr bool
	}{
		{in: "192.168.0.1", want: transport.Endpoint{Host: "192.168.0.1", Port: 56700}},
		{in: "192.168.0.1:56701", want: transport.Endpoint{Host: "192.168.0.1", Port: 56701}},
		{in: "[fe80::1]:56700", want: transport.Endpoint{Host: "fe80::1", Port: 56700}},
		{in: "192.168.0.1:0", wantErr: true},
		{in: "192.168.0.1:http", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndpoint(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEndpoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEndpoint(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func BenchmarkEnsureDevice(b *testing.B) {
	reg := NewRegistry()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.EnsureDevice("d073d5000001")
	}
}
