package logger

import "strings"

// Config provides a logging Level for a particular namespace.
type Config interface {
	LevelForNamespace(namespace string) Level
}

// ConfigMap maps namespaces to levels. The empty key configures the root
// level used when no other entry matches.
type ConfigMap map[string]Level

// NewConfigMapFromString parses a comma-separated configuration string, e.g.
// "bleq:scheduler:trace,bleq:wsbridge:debug,error". Each entry is a
// namespace optionally suffixed with ":<level>"; entries without a valid
// level suffix default to info.
func NewConfigMapFromString(stringConfig string) Config {
	if stringConfig == "" {
		return nil
	}

	entries := strings.Split(stringConfig, ",")

	ret := make(ConfigMap, len(entries))

	for _, ns := range entries {
		level := LevelInfo

		if index := strings.LastIndex(ns, ":"); index > -1 {
			if cfgLevel, ok := LevelFromString(ns[index+1:]); ok {
				level = cfgLevel
				ns = ns[:index]
			}
		} else if cfgLevel, ok := LevelFromString(ns); ok {
			// A bare level configures the root namespace.
			level = cfgLevel
			ns = ""
		}

		ret[ns] = level
	}

	return ret
}

// LevelForNamespace implements Config. Lookup order: exact namespace, the
// last namespace segment, then the root entry.
func (c ConfigMap) LevelForNamespace(namespace string) Level {
	if level, ok := c[namespace]; ok {
		return level
	}

	if index := strings.LastIndex(namespace, ":"); index > -1 {
		if level, ok := c[namespace[index+1:]]; ok {
			return level
		}
	}

	return c[""]
}
