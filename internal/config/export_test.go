package config

// LoadWithEnv exposes the loader with an injectable environment.
var LoadWithEnv = loadFromReader
