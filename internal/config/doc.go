// Package config 负责加载 awed 的配置文件（JSON、YAML 或 TOML），
// 并为未填写的字段补齐默认值。
package config
