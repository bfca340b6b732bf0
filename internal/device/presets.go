package device

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// wavelengthFile 波长预置表文件结构
type wavelengthFile struct {
	Wavelengths []uint16 `yaml:"wavelengths"`
}

// LoadWavelengthPresets 从YAML文件加载波长预置表
// 预置表仅在连接前生效，连接成功后仍会被设备读回的波长表整体替换
func LoadWavelengthPresets(path string) ([]uint16, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wavelength presets: %w", err)
	}

	var f wavelengthFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unmarshal wavelength presets: %w", err)
	}
	if len(f.Wavelengths) == 0 {
		return nil, fmt.Errorf("wavelength presets empty: %s", path)
	}
	return f.Wavelengths, nil
}
