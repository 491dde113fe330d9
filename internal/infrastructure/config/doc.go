// Package config loads the AV bridge configuration.
//
// Load applies defaults, then the YAML file, then GRAYLOGIC_AV_*
// environment overrides, fills per-display defaults (MDC port 1515,
// 9600 baud serial, Philips API v1) and validates the result, reporting
// every problem at once.
//
// Keep MQTT passwords, TV credentials and the JWT secret in the
// environment rather than the file.
package config
