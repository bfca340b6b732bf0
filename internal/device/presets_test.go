package device

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jwopto-code/atten-server/internal/dispatch"
	"github.com/jwopto-code/atten-server/internal/protocol/jw8507"
)

func TestLoadWavelengthPresets(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "wavelengths.yaml")
	if err := os.WriteFile(path, []byte("wavelengths: [1310, 1550, 1625]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadWavelengthPresets(path)
	if err != nil {
		t.Fatalf("LoadWavelengthPresets() error = %v", err)
	}
	expected := []uint16{1310, 1550, 1625}
	if len(got) != len(expected) {
		t.Fatalf("预置表长度 = %d, expected %d", len(got), len(expected))
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Errorf("预置表[%d] = %d, expected %d", i, got[i], expected[i])
		}
	}

	t.Run("文件不存在", func(t *testing.T) {
		if _, err := LoadWavelengthPresets(filepath.Join(dir, "missing.yaml")); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("空表", func(t *testing.T) {
		empty := filepath.Join(dir, "empty.yaml")
		if err := os.WriteFile(empty, []byte("wavelengths: []\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadWavelengthPresets(empty); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestManagerAppliesPresets(t *testing.T) {
	// 设备应答版本号但不应答波长表，预置表得以保留
	port := &fakePort{respond: func(frame []byte) []byte {
		if jw8507.RespCmd(frame) != jw8507.CmdReadVersion {
			return nil
		}
		return ackDevice(t)(frame)
	}}

	m := NewManager(Settings{Path: "/dev/ttyUSB0", BaudRate: 115200, ReadTimeout: 50 * time.Millisecond},
		[]uint16{1111, 2222}, dispatch.New(4), nil, nil)
	m.openPort = func(Settings) (Port, error) { return port, nil }

	if r := m.ConnectDevice(); !r.OK {
		t.Fatalf("ConnectDevice() = %+v", r)
	}
	if !m.Session().HasWavelength(1111) || m.Session().HasWavelength(1310) {
		t.Errorf("预置表未生效: %v", m.Session().Wavelengths())
	}
}
