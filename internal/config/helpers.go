package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigHelpers provides convenient access to global configuration
type ConfigHelpers struct {
	config *GlobalConfig
}

// NewConfigHelpers creates a new config helpers instance
func NewConfigHelpers(config *GlobalConfig) *ConfigHelpers {
	return &ConfigHelpers{config: config}
}

// CacheDir returns the absolute path to the cache directory
func (c *ConfigHelpers) CacheDir() (string, error) {
	return filepath.Abs(c.config.CacheDir)
}

// WorkDir returns the absolute path to the work directory
func (c *ConfigHelpers) WorkDir() (string, error) {
	return filepath.Abs(c.config.WorkDir)
}

// SnapshotPath returns where the mapping snapshot is persisted, or ""
// when persistence is disabled.
func (c *ConfigHelpers) SnapshotPath() (string, error) {
	p := c.config.Mapper.SnapshotFile
	if p == "" || filepath.IsAbs(p) {
		return p, nil
	}
	cacheDir, err := c.CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, p), nil
}

// ReportDir returns the directory conversion reports are written to;
// empty selects the logger's default report path
func (c *ConfigHelpers) ReportDir() string {
	return c.config.ReportDir
}

// CreateCacheDir ensures the cache directory exists and returns its path
func (c *ConfigHelpers) CreateCacheDir() (string, error) {
	cacheDir, err := c.CacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving cache directory: %w", err)
	}
	return cacheDir, createDirIfNotExists(cacheDir)
}

// CreateWorkDir ensures the work directory exists and returns its path
func (c *ConfigHelpers) CreateWorkDir() (string, error) {
	workDir, err := c.WorkDir()
	if err != nil {
		return "", fmt.Errorf("resolving work directory: %w", err)
	}
	return workDir, createDirIfNotExists(workDir)
}

// Helper function to create directories
func createDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
