package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// sectorMapFile 是板块映射 YAML 的文件结构。
type sectorMapFile struct {
	Sectors map[string]string `yaml:"sectors"`
}

// LoadSectorMap 读取 symbol -> 板块 的映射,风控板块敞口闸门据此归类。
// path 为空返回 nil 映射,未归类的标的由调用方落入缺省板块。
func LoadSectorMap(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sector map failed (%s): %w", path, err)
	}
	var file sectorMapFile
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing sector map failed (%s): %w", path, err)
	}
	if len(file.Sectors) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(file.Sectors))
	for symbol, sector := range file.Sectors {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		sector = strings.ToLower(strings.TrimSpace(sector))
		if symbol == "" || sector == "" {
			continue
		}
		out[symbol] = sector
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
