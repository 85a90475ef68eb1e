package config

// StorageConfig configures the on-disk script store.
type StorageConfig struct {
	// Root directory holding one JSON file per script plus the index file.
	Root string `yaml:"root"`

	// Watch enables fsnotify-driven index refresh when scripts are edited
	// out of band.
	Watch bool `yaml:"watch"`
}

// DefaultStorageConfig returns storage defaults.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Root:  ".browsernerd/scripts",
		Watch: true,
	}
}
