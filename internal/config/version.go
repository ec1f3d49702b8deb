package config

// Version is the canonical version of femasgate
const Version = "1.0.0"

// GetVersion returns the current version
func GetVersion() string {
	return Version
}
