package config

import (
	"github.com/joho/godotenv"
)

// LoadDotEnv loads the first .env file found in paths into the process
// environment and returns its path. Variables already set are not
// overridden. An empty result means no file was found.
func LoadDotEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}
