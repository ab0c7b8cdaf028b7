package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitialize_SilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	defer SetLogger(nil)

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should be silent when no level is set")
	}
}

func TestInitialize_FromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	defer SetLogger(nil)

	if err := InitializeFromEnv(); err != nil {
		t.Fatalf("InitializeFromEnv() error = %v", err)
	}
	core := GetLogger().Core()
	if !core.Enabled(zapcore.WarnLevel) || core.Enabled(zapcore.InfoLevel) {
		t.Error("logger level should be warn")
	}
}

func TestLogPacket(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogPacket("sent", "10.0.0.1:56700", "GetPower", "d073d5000001", 2, 7, []byte{0x24, 0x00})

	entries := logs.FilterMessage("Packet sent").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	want := map[string]any{
		"remote_addr": "10.0.0.1:56700",
		"pkt_type":    "GetPower",
		"serial":      "d073d5000001",
		"source":      uint32(2),
		"sequence":    uint8(7),
		"hex_dump":    "2400",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %#v, want %#v", k, fields[k], v)
		}
	}
}

func TestLogPacket_SkippedAboveDebug(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogPacket("received", "10.0.0.1:56700", "StatePower", "d073d5000001", 2, 7, []byte{1})
	if logs.Len() != 0 {
		t.Errorf("got %d entries at info level, want 0", logs.Len())
	}
}

func TestDumps(t *testing.T) {
	long := bytes.Repeat([]byte{'A'}, 300)

	if got := hexDump(nil); got != "" {
		t.Errorf("hexDump(nil) = %q", got)
	}
	if got := hexDump(long); !strings.HasSuffix(got, "...") || len(got) != 256*2+3 {
		t.Errorf("hexDump() of 300 bytes has length %d", len(got))
	}
	if got := asciiDump([]byte("hi\x00\xff!")); got != "hi..!" {
		t.Errorf("asciiDump() = %q, want %q", got, "hi..!")
	}
	if got := asciiDump(long); len(got) != 256 {
		t.Errorf("asciiDump() of 300 bytes has length %d", len(got))
	}
}

func TestSetLogger_ConcurrentWithLogging(t *testing.T) {
	defer SetLogger(nil)
	SetLogger(nil)
	if GetLogger() == nil {
		t.Fatal("GetLogger() returned nil after SetLogger(nil)")
	}

	core, logs := observer.New(zapcore.DebugLevel)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Debug("tick", zap.Int("j", j))
				LogPacket("sent", "10.0.0.1:56700", "GetPower", "d073d5000001", 2, 1, []byte{1, 2})
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			SetLogger(zap.New(core))
		} else {
			SetLogger(nil)
		}
	}
	SetLogger(zap.New(core))
	wg.Wait()

	Debug("after")
	if got := logs.FilterMessage("after").Len(); got != 1 {
		t.Errorf("final logger saw %d entries for the last message, want 1", got)
	}
}
