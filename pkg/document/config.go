package document

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jlrickert/docpkg/pkg/backup"
	"github.com/jlrickert/docpkg/pkg/internal"
	"github.com/jlrickert/docpkg/pkg/pkgfs"
	"github.com/jlrickert/docpkg/pkg/store"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string in yaml.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config controls package layout and save behaviour of the coordinator.
type Config struct {
	StoreName             string `yaml:"storeName"`
	StoreContentFolder    string `yaml:"storeContentFolder"`
	AdditionalContentPath string `yaml:"additionalContentPath"`

	// StoreType overrides the type registered for the file type.
	StoreType string `yaml:"storeType,omitempty"`

	BackupStrategy string `yaml:"backupStrategy"`
	// BackupDir holds snapshots. Empty places them next to the package.
	BackupDir string `yaml:"backupDir,omitempty"`

	// BackgroundWrites runs commits on a worker goroutine. When false
	// SaveAsync behaves like Save.
	BackgroundWrites bool `yaml:"backgroundWrites"`

	AutosaveDelay Duration `yaml:"autosaveDelay"`
	// AutosaveDir receives AutosaveElsewhere copies. Empty uses the user
	// state directory.
	AutosaveDir string `yaml:"autosaveDir,omitempty"`

	LockTimeout  Duration `yaml:"lockTimeout"`
	LockInterval Duration `yaml:"lockInterval"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		StoreName:             pkgfs.DefaultStoreName,
		StoreContentFolder:    pkgfs.DefaultStoreContentFolder,
		AdditionalContentPath: pkgfs.DefaultAdditionalContentPath,
		BackupStrategy:        string(backup.StrategyCopy),
		BackgroundWrites:      true,
		AutosaveDelay:         Duration(2 * time.Second),
		LockTimeout:           Duration(pkgfs.DefaultLockTimeout),
		LockInterval:          Duration(pkgfs.DefaultLockInterval),
	}
}

// ReadConfig reads a config file. Keys missing from the file keep their
// default values.
func ReadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Write stores the config at path atomically.
func (c Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := internal.AtomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.StoreName == "" {
		errs = append(errs, errors.New("storeName is required"))
	}
	if c.AdditionalContentPath == "" {
		errs = append(errs, errors.New("additionalContentPath is required"))
	}
	if c.AdditionalContentPath != "" && c.AdditionalContentPath == c.StoreContentFolder {
		errs = append(errs, errors.New("additionalContentPath and storeContentFolder must differ"))
	}
	if _, err := backup.ParseStrategy(c.BackupStrategy); err != nil {
		errs = append(errs, err)
	}
	if c.StoreType != "" {
		known := false
		for _, t := range store.Types() {
			known = known || t == c.StoreType
		}
		if !known {
			errs = append(errs, fmt.Errorf("unknown storeType %q", c.StoreType))
		}
	}
	if c.AutosaveDelay < 0 {
		errs = append(errs, errors.New("autosaveDelay must not be negative"))
	}
	if c.LockTimeout < 0 || c.LockInterval < 0 {
		errs = append(errs, errors.New("lock durations must not be negative"))
	}
	return errors.Join(errs...)
}

// Layout returns the package layout described by the config.
func (c Config) Layout() pkgfs.Layout {
	return pkgfs.Layout{
		StoreName:             c.StoreName,
		StoreContentFolder:    c.StoreContentFolder,
		AdditionalContentPath: c.AdditionalContentPath,
	}
}
