package config

import (
	"os"
	"path/filepath"
)

// Env holds process-level settings read from the environment.
type Env struct {
	OutputDir     string // base directory for run outputs
	DBPath        string // SQLite run index
	EstimatorAddr string // gRPC risk model address; empty selects the heuristic estimator
	MetricsAddr   string // Prometheus listen address; empty disables the endpoint
}

// LoadEnv reads RAS_* variables with fallbacks.
func LoadEnv() Env {
	out := envOr("RAS_OUTPUT_DIR", "runs")
	return Env{
		OutputDir:     out,
		DBPath:        envOr("RAS_DB", filepath.Join(out, "runs.db")),
		EstimatorAddr: os.Getenv("RAS_ESTIMATOR_ADDR"),
		MetricsAddr:   os.Getenv("RAS_METRICS_ADDR"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
